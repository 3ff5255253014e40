package models

// EvseState is the normalized wallbox state reported by the charger gateway.
type EvseState string

const (
	EvseStateFree           EvseState = "free"
	EvseStateVehiclePresent EvseState = "vehiclePresent"
	EvseStateCharging       EvseState = "charging"
	EvseStateOffline        EvseState = "offline"
	EvseStateError          EvseState = "error"
)

// evseStateByCode maps the numeric state codes of the cFos protocol onto the
// normalized enum. Codes 3 and 4 (charging / vent-required charging) collapse
// onto a single charging state.
var evseStateByCode = map[int]EvseState{
	1: EvseStateFree,
	2: EvseStateVehiclePresent,
	3: EvseStateCharging,
	4: EvseStateCharging,
	5: EvseStateError,
	6: EvseStateOffline,
}

// EvseStateFromCode normalizes a raw hardware state code. Unknown codes map
// to the error state; the second return reports whether the code was known.
func EvseStateFromCode(code int) (EvseState, bool) {
	state, ok := evseStateByCode[code]
	if !ok {
		return EvseStateError, false
	}
	return state, true
}

// Available reports whether a new charging session may start in this state.
func (s EvseState) Available() bool {
	return s == EvseStateFree || s == EvseStateVehiclePresent
}

// Charger is an ephemeral snapshot of a single wallbox. It is never persisted;
// the hardware is authoritative and a fresh snapshot is fetched per operation.
type Charger struct {
	ID                   string    `json:"id"`
	FriendlyName         string    `json:"friendlyName"`
	Address              string    `json:"address"`
	TotalEnergyWattHours float64   `json:"totalEnergyWattHours"`
	EvseState            EvseState `json:"evseState"`
	ChargingEnabled      bool      `json:"chargingEnabled"`
}
