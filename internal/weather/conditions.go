package weather

// Canonical condition codes. The numbering follows WeatherAPI.com; adapters
// for other vendors convert into it.
const (
	CodeClear        = 1000
	CodeCloudy       = 1003
	CodeRain         = 1183
	CodeSnow         = 1213
	CodeThunderstorm = 1276
)

// Condition is a normalized high-level weather condition.
type Condition string

const (
	ConditionClear  Condition = "clear"
	ConditionCloudy Condition = "cloudy"
	ConditionRain   Condition = "rain"
	ConditionSnow   Condition = "snow"
	ConditionStorm  Condition = "storm"
)

// Descriptor is the presentation metadata for a condition.
type Descriptor struct {
	Condition   Condition `json:"condition"`
	Description string    `json:"description"`
	IconKey     string    `json:"iconKey"`
	ColorKey    string    `json:"colorKey"`
	Message     string    `json:"message"`
}

var descriptors = map[Condition]Descriptor{
	ConditionClear:  {ConditionClear, "Clear sky", "sun", "orange", "It's a beautiful day!"},
	ConditionCloudy: {ConditionCloudy, "Cloudy", "cloud", "grey", "Perfect weather for coding."},
	ConditionRain:   {ConditionRain, "Rainy", "drop", "blue-grey", "Don't forget your umbrella."},
	ConditionStorm:  {ConditionStorm, "Stormy", "thunder", "purple", "Stay safe indoors!"},
	ConditionSnow:   {ConditionSnow, "Snowy", "snowflake", "cyan", "Build a snowman!"},
}

type codeRange struct {
	from, to  int
	condition Condition
}

// conditionTable is matched top to bottom; specific codes come before the
// broad ranges that contain them.
var conditionTable = []codeRange{
	{1000, 1000, ConditionClear},
	{1063, 1063, ConditionRain},
	{1066, 1066, ConditionSnow},
	{1069, 1072, ConditionRain},
	{1087, 1087, ConditionStorm},
	{1114, 1117, ConditionSnow},
	{1001, 1147, ConditionCloudy},
	{1150, 1201, ConditionRain},
	{1204, 1237, ConditionSnow},
	{1240, 1246, ConditionRain},
	{1249, 1264, ConditionSnow},
	{1273, 1282, ConditionStorm},
}

// Describe returns the descriptor for a canonical condition code. Unknown codes
// are described as clear sky.
func Describe(code int) Descriptor {
	for _, r := range conditionTable {
		if code >= r.from && code <= r.to {
			return descriptors[r.condition]
		}
	}
	return descriptors[ConditionClear]
}

// FromWMO converts a WMO weather interpretation code (used by Open-Meteo) into
// the canonical taxonomy.
func FromWMO(wmo int) int {
	switch wmo {
	case 0, 1:
		return CodeClear
	case 2, 3, 45, 48:
		return CodeCloudy
	case 51, 53, 55, 56, 57, 61, 63, 65, 66, 67, 80, 81, 82:
		return CodeRain
	case 71, 73, 75, 77, 85, 86:
		return CodeSnow
	case 95, 96, 99:
		return CodeThunderstorm
	default:
		return CodeCloudy
	}
}
