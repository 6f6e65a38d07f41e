// Package domain models National Weather Service (NWS) station observations
// and the alert rules derived from them.
//
// # Data Source
//
// Observations come from the NWS API "latest observation" endpoint:
//
//	GET https://api.weather.gov/stations/{station}/observations/latest
//
// The body is GeoJSON. Everything of interest sits under "properties", and each
// measurement is a quantity object:
//
//	"barometricPressure": {"unitCode": "wmoUnit:Pa", "value": 101320, "qualityControl": "V"}
//
// "value" is null whenever the station did not report the element, which is
// common for precipitation, pressure and cloud layers at smaller stations.
// "properties.station" is the station URL, not the bare code.
//
// # Canonical Units
//
// A [Reading] stores:
//
//	temperature    degrees Celsius        (wmoUnit:degC, degF converted)
//	wind_speed     miles per hour         (wmoUnit:km_h-1 and m_s-1 converted)
//	precipitation  millimetres, last hour (wmoUnit:mm)
//	pressure       millibars / hPa        (wmoUnit:Pa converted)
//	humidity       percent                (wmoUnit:percent)
//	cloud_cover    lowest layer amount    (SKC, FEW, SCT, BKN, OVC, VV)
//
// Values whose quantity carries no unitCode are assumed to be canonical already.
//
// # Alert Rules
//
//	Cow alert:   wind_speed > threshold (default 50 mph). Equality does not alert.
//	Storm alert: (previous_pressure - current_pressure) / elapsed_hours > threshold
//	             (default 4 mb/hour). A station's first sample never alerts.
//
// Rapid falls of 4 mb or more per hour are associated with intensifying low
// pressure systems and severe convective weather; the rule is a proxy signal,
// not a forecast.
package domain
