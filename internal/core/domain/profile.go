package domain

const (
	PROFILE_NONE   = 0
	PROFILE_SUMMER = 1
	PROFILE_RAINY  = 2
	PROFILE_WINTER = 3
)

type ChargingProfile struct {
	Number           int
	MaxChargeCurrent float64
	MaxSOC           float64
	MinSOC           float64
	SafeSOC1         float64
	SafeSOC2         float64
}

func (p ChargingProfile) Name() string {
	switch p.Number {
	case PROFILE_SUMMER:
		return "summer"
	case PROFILE_RAINY:
		return "rainy"
	case PROFILE_WINTER:
		return "winter"
	}
	return "none"
}

func SummerProfile() ChargingProfile {
	return ChargingProfile{Number: PROFILE_SUMMER, MaxChargeCurrent: 3.2, MaxSOC: 95, MinSOC: 5, SafeSOC1: 65, SafeSOC2: 75}
}

func RainyProfile() ChargingProfile {
	return ChargingProfile{Number: PROFILE_RAINY, MaxChargeCurrent: 3.3, MaxSOC: 95, MinSOC: 5, SafeSOC1: 55, SafeSOC2: 65}
}

func WinterProfile() ChargingProfile {
	return ChargingProfile{Number: PROFILE_WINTER, MaxChargeCurrent: 3.4, MaxSOC: 95, MinSOC: 5, SafeSOC1: 65, SafeSOC2: 75}
}
