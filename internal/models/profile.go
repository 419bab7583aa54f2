package models

// DeviceProfile is the static nameplate of a turbine used by the consistency check.
type DeviceProfile struct {
	DeviceID      string  `json:"deviceId" yaml:"deviceId"`
	CapacityKW    float64 `json:"capacityKw" yaml:"capacityKw"`
	MaxFlowM3S    float64 `json:"maxFlow_m3s" yaml:"maxFlow_m3s"`
	MaxHeadM      float64 `json:"maxHead_m" yaml:"maxHead_m"`
	MinEfficiency float64 `json:"minEfficiency" yaml:"minEfficiency"`
}
