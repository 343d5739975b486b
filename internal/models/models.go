package models

import "time"

// User represents an operator account on the platform.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Roles        []string  `json:"roles"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ResidentialEstate is a managed housing development whose plants are tracked
// as a group.
type ResidentialEstate struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	EstateType  string    `json:"estateType,omitempty"`
	Description string    `json:"description,omitempty"`
	AreaSqm     float64   `json:"areaSqm,omitempty"`
	NumUnits    int       `json:"numUnits"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EstateStructure summarises an estate for dropdowns and navigation trees.
type EstateStructure struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	NumUnits int    `json:"numUnits"`
	Active   bool   `json:"active"`
	Plants   int    `json:"plants"`
}

// EstatePlant is an upstream plant as tracked in the data store, optionally
// linked to a residential estate.
type EstatePlant struct {
	ID          int64      `json:"id"`
	EstateID    int64      `json:"estateId,omitempty"`
	Name        string     `json:"name"`
	Status      int        `json:"status"`
	Address     string     `json:"address,omitempty"`
	Pac         float64    `json:"pac"`
	Efficiency  float64    `json:"efficiency"`
	EToday      float64    `json:"etoday"`
	ETotal      float64    `json:"etotal"`
	Type        int        `json:"type,omitempty"`
	MasterID    int64      `json:"masterId,omitempty"`
	ThumbURL    string     `json:"thumbUrl,omitempty"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	PlantCreate *time.Time `json:"plantCreate,omitempty"`
	PlantUpdate *time.Time `json:"plantUpdate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Plant status codes mirrored from the upstream monitoring platform.
const (
	PlantStatusOffline = 0
	PlantStatusNormal  = 1
	PlantStatusWarning = 2
	PlantStatusFault   = 3
)

// Inverter is an inverter unit attached to a plant, keyed upstream by serial
// number.
type Inverter struct {
	ID        int64     `json:"id"`
	SN        string    `json:"sn"`
	PlantID   int64     `json:"plantId"`
	Alias     string    `json:"alias,omitempty"`
	GSN       string    `json:"gsn,omitempty"`
	Status    int       `json:"status"`
	Type      int       `json:"type,omitempty"`
	CommType  string    `json:"commType,omitempty"`
	Model     string    `json:"model,omitempty"`
	Version   string    `json:"version,omitempty"`
	RatePower float64   `json:"ratePower,omitempty"`
	Pac       float64   `json:"pac"`
	EToday    float64   `json:"etoday"`
	ETotal    float64   `json:"etotal"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PowerPoint is a single timestamped metric sample for a plant. Samples are
// unique per (plant, timestamp, metric) and timestamps are stored in UTC.
type PowerPoint struct {
	PlantID int64     `json:"plantId"`
	TS      time.Time `json:"ts"`
	Metric  string    `json:"metric"`
	Value   float64   `json:"value"`
}

// Metric names recorded for plant power samples.
const (
	MetricPV         = "PV"
	MetricBattery    = "Battery"
	MetricGrid       = "Grid"
	MetricLoad       = "Load"
	MetricSOC        = "SOC"
	MetricEToday     = "etoday"
	MetricETotal     = "etotal"
	MetricEfficiency = "efficiency"
)

// DailyReport is an end-of-day snapshot of an estate plant, unique per
// (plant, report date).
type DailyReport struct {
	ID         int64     `json:"id"`
	PlantID    int64     `json:"plantId"`
	EstateID   int64     `json:"estateId,omitempty"`
	ReportDate string    `json:"reportDate"`
	Name       string    `json:"name"`
	Status     int       `json:"status"`
	Pac        float64   `json:"pac"`
	Efficiency float64   `json:"efficiency"`
	EToday     float64   `json:"etoday"`
	ETotal     float64   `json:"etotal"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EstateTotals aggregates KPI figures across the plants linked to an estate.
type EstateTotals struct {
	EstateID   int64   `json:"estateId"`
	Plants     int     `json:"plants"`
	Online     int     `json:"online"`
	Offline    int     `json:"offline"`
	Pac        float64 `json:"pac"`
	EToday     float64 `json:"etoday"`
	ETotal     float64 `json:"etotal"`
	Efficiency float64 `json:"efficiency"`
}

// HourlyMetric is one estate-hour bucket of energy figures for dashboard
// charts.
type HourlyMetric struct {
	EstateID   int64     `json:"estateId"`
	Hour       int       `json:"hour"`
	SampleTime time.Time `json:"sampleTime"`
	EToday     float64   `json:"etoday"`
	ETotal     float64   `json:"etotal"`
	Efficiency float64   `json:"efficiency"`
}

// RealtimePower is the cached latest realtime snapshot for a plant as served
// by the web API.
type RealtimePower struct {
	PlantID   int64     `json:"plantId"`
	Pac       float64   `json:"pac"`
	Battery   float64   `json:"battery"`
	Grid      float64   `json:"grid"`
	Load      float64   `json:"load"`
	SOC       float64   `json:"soc"`
	UpdatedAt time.Time `json:"updatedAt"`
}
