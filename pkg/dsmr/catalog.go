package dsmr

// FieldKind tells the decoder how to treat the value of a catalogued line.
type FieldKind int

const (
	// KindIgnored marks codes the meter sends in every telegram but which
	// never make it into a reading.
	KindIgnored FieldKind = iota
	KindTimestamp
	KindEnergy
	KindTariff
	KindPower
	KindCurrent
	KindGasVolume
)

// CatalogEntry maps an OBIS code to the sink field it feeds.
type CatalogEntry struct {
	Name string
	Kind FieldKind
}

// Field names as they appear in the sink measurement.
const (
	FieldEnergyT1       = "energy_t1"
	FieldEnergyT2       = "energy_t2"
	FieldTariff         = "tariff_indicator"
	FieldPowerDelivered = "power_delivered_w"
	FieldCurrent        = "current_delivered"
	FieldGas            = "gas"
	FieldGasTime        = "gas_time"
)

// catalog covers the single-phase + gas profile of DSMR 4.
// https://www.netbeheernederland.nl/_upload/Files/Slimme_meter_15_32ffe3cc38.pdf
var catalog = map[ObisCode]CatalogEntry{
	{0, 0, 1, 0, 0}:   {Kind: KindTimestamp},
	{1, 0, 1, 8, 1}:   {Name: FieldEnergyT1, Kind: KindEnergy},
	{1, 0, 1, 8, 2}:   {Name: FieldEnergyT2, Kind: KindEnergy},
	{0, 0, 96, 14, 0}: {Name: FieldTariff, Kind: KindTariff},
	{1, 0, 21, 7, 0}:  {Name: FieldPowerDelivered, Kind: KindPower},
	{1, 0, 31, 7, 0}:  {Name: FieldCurrent, Kind: KindCurrent},
	{0, 1, 24, 2, 1}:  {Name: FieldGas, Kind: KindGasVolume},

	// Received in every telegram, deliberately dropped.
	{1, 3, 0, 2, 8}:   {Kind: KindIgnored}, // version information
	{0, 0, 96, 1, 1}:  {Kind: KindIgnored}, // equipment identifier
	{1, 0, 2, 8, 1}:   {Kind: KindIgnored}, // energy returned tariff 1
	{1, 0, 2, 8, 2}:   {Kind: KindIgnored}, // energy returned tariff 2
	{1, 0, 1, 7, 0}:   {Kind: KindIgnored}, // actual power delivered
	{1, 0, 2, 7, 0}:   {Kind: KindIgnored}, // actual power returned
	{0, 0, 96, 7, 9}:  {Kind: KindIgnored}, // long power failure count
	{0, 0, 96, 7, 21}: {Kind: KindIgnored}, // power failure count
	{1, 0, 99, 97, 0}: {Kind: KindIgnored}, // power failure event log
	{1, 0, 32, 32, 0}: {Kind: KindIgnored}, // voltage sag count L1
	{1, 0, 32, 36, 0}: {Kind: KindIgnored}, // voltage swell count L1
	{0, 0, 96, 13, 1}: {Kind: KindIgnored}, // text message codes
	{0, 0, 96, 13, 0}: {Kind: KindIgnored}, // text message
	{1, 0, 22, 7, 0}:  {Kind: KindIgnored}, // power returned L1
	{0, 1, 24, 1, 0}:  {Kind: KindIgnored}, // M-Bus device type
	{0, 1, 96, 1, 0}:  {Kind: KindIgnored}, // gas equipment identifier
}

// Lookup returns the catalog entry for code. ok is false for codes outside
// the supported telegram profile.
func Lookup(code ObisCode) (entry CatalogEntry, ok bool) {
	entry, ok = catalog[code]
	return entry, ok
}
