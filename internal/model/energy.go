package model

// EnergyBreakdown is the estimated energy an activity consumed, in kWh.
// TotalKWh is (compute+network+storage) x PUE. CoolingKWh is reported for
// transparency only and is already covered by the PUE multiplier.
type EnergyBreakdown struct {
	ComputeKWh float64 `json:"compute_kwh"`
	NetworkKWh float64 `json:"network_kwh"`
	StorageKWh float64 `json:"storage_kwh"`
	CoolingKWh float64 `json:"cooling_kwh"`
	TotalKWh   float64 `json:"total_kwh"`
	PUE        float64 `json:"pue"`
}

// ITLoadKWh returns compute+network+storage before data-center overhead.
func (b EnergyBreakdown) ITLoadKWh() float64 {
	return b.ComputeKWh + b.NetworkKWh + b.StorageKWh
}
