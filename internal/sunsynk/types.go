package sunsynk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// envelope is the wire frame every endpoint returns: a numeric code, a
// human-readable message, and the payload. Code zero means success.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Page is the standard paginated payload shape.
type Page[T any] struct {
	Total    int `json:"total"`
	PageNum  int `json:"pageNumber"`
	PageSize int `json:"pageSize"`
	Infos    []T `json:"infos"`
}

// FlexFloat decodes numbers the platform serialises inconsistently as either
// JSON numbers or quoted strings.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		*f = 0
		return nil
	}
	trimmed = strings.Trim(trimmed, `"`)
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fmt.Errorf("parse flex float %q: %w", trimmed, err)
	}
	*f = FlexFloat(value)
	return nil
}

// Plant is a solar installation as reported by the plant endpoints.
type Plant struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     int       `json:"status"`
	Address    string    `json:"address"`
	Pac        FlexFloat `json:"pac"`
	Efficiency FlexFloat `json:"efficiency"`
	EToday     FlexFloat `json:"etoday"`
	ETotal     FlexFloat `json:"etotal"`
	Type       int       `json:"type"`
	MasterID   int64     `json:"masterId"`
	ThumbURL   string    `json:"thumbUrl"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	CreateAt   string    `json:"createAt"`
	UpdateAt   string    `json:"updateAt"`
}

// Inverter is an inverter unit as reported by the inverter endpoints.
type Inverter struct {
	ID        int64     `json:"id"`
	SN        string    `json:"sn"`
	Alias     string    `json:"alias"`
	GSN       string    `json:"gsn"`
	Status    int       `json:"status"`
	Type      int       `json:"type"`
	CommType  string    `json:"commTypeName"`
	Model     string    `json:"model"`
	Version   string    `json:"version"`
	RatePower FlexFloat `json:"ratePower"`
	Pac       FlexFloat `json:"pac"`
	EToday    FlexFloat `json:"etoday"`
	ETotal    FlexFloat `json:"etotal"`
	PlantID   int64     `json:"plantId"`
	PlantName string    `json:"plantName"`
	UpdateAt  string    `json:"updateAt"`
}

// StatusSummary is the aggregate device-state breakdown returned by the count
// endpoints.
type StatusSummary struct {
	Total   int `json:"total"`
	Normal  int `json:"normal"`
	Offline int `json:"offline"`
	Warning int `json:"warn"`
	Fault   int `json:"fault"`
}

// RealtimeSnapshot is the flattened realtime flow for a plant.
type RealtimeSnapshot struct {
	Pac        FlexFloat `json:"pac"`
	Battery    FlexFloat `json:"battPower"`
	Grid       FlexFloat `json:"gridOrMeterPower"`
	Load       FlexFloat `json:"loadOrEpsPower"`
	SOC        FlexFloat `json:"soc"`
	EToday     FlexFloat `json:"etoday"`
	ETotal     FlexFloat `json:"etotal"`
	Efficiency FlexFloat `json:"efficiency"`
	UpdateAt   string    `json:"updateAt"`
}

// EnergyRecord is one sample in a day-chart channel.
type EnergyRecord struct {
	Time  string    `json:"time"`
	Value FlexFloat `json:"value"`
	Unit  string    `json:"unit"`
}

// EnergyChannel is one labelled series in the day chart (PV, Load, SOC, ...).
type EnergyChannel struct {
	Label   string         `json:"label"`
	Unit    string         `json:"unit"`
	Records []EnergyRecord `json:"records"`
}

// InverterOutput is the realtime AC output of a single inverter.
type InverterOutput struct {
	Pac     FlexFloat `json:"pac"`
	PF      FlexFloat `json:"pf"`
	VIP     []Phase   `json:"vip"`
	EToday  FlexFloat `json:"etoday"`
	ETotal  FlexFloat `json:"etotal"`
	Current FlexFloat `json:"current"`
	Voltage FlexFloat `json:"voltage"`
}

// Phase is a per-phase voltage/current/power triple.
type Phase struct {
	Volt    FlexFloat `json:"volt"`
	Current FlexFloat `json:"current"`
	Power   FlexFloat `json:"power"`
}

// BatteryRealtime is the realtime battery state for an inverter.
type BatteryRealtime struct {
	Power       FlexFloat `json:"power"`
	Voltage     FlexFloat `json:"voltage"`
	Current     FlexFloat `json:"current"`
	SOC         FlexFloat `json:"soc"`
	Temperature FlexFloat `json:"temp"`
	Status      int       `json:"status"`
}

// GridRealtime is the realtime grid exchange for an inverter.
type GridRealtime struct {
	VIP         []Phase   `json:"vip"`
	Pac         FlexFloat `json:"pac"`
	AcRealyStat int       `json:"acRealyStat"`
	EToday      FlexFloat `json:"etodayFrom"`
	ETotal      FlexFloat `json:"etotalFrom"`
}

// LoadRealtime is the realtime load consumption for an inverter.
type LoadRealtime struct {
	VIP        []Phase   `json:"vip"`
	TotalPower FlexFloat `json:"totalPower"`
	EToday     FlexFloat `json:"dailyUsed"`
	ETotal     FlexFloat `json:"totalUsed"`
}

// Gateway is a communication gateway/datalogger device.
type Gateway struct {
	ID       int64  `json:"id"`
	SN       string `json:"sn"`
	Alias    string `json:"alias"`
	Status   int    `json:"status"`
	PlantID  int64  `json:"plantId"`
	Signal   int    `json:"signal"`
	UpdateAt string `json:"updateAt"`
}

// Event is an alert or fault notification raised by a device.
type Event struct {
	ID        int64  `json:"id"`
	SN        string `json:"sn"`
	PlantID   int64  `json:"plantId"`
	PlantName string `json:"plantName"`
	Level     int    `json:"level"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Time      string `json:"time"`
	Status    int    `json:"status"`
}

// WorkDataPoint is one row of the dynamic inverter work data table.
type WorkDataPoint struct {
	SN     string               `json:"sn"`
	Time   string               `json:"time"`
	Values map[string]FlexFloat `json:"values"`
}
