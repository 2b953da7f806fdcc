package models

import "time"

// Reading is a current-weather reading as returned by the weather API. It is the cache payload.
type Reading struct {
	City        string    `json:"city"`
	Temperature float64   `json:"temperature"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Icon        string    `json:"icon,omitempty"`
	Description string    `json:"description,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Observation is one logged lookup in the local history database.
type Observation struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	City        string    `gorm:"index" json:"city"`
	Temperature float64   `json:"temperature"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Icon        string    `json:"icon,omitempty"`
	Description string    `json:"description,omitempty"`
	CapturedAt  time.Time `gorm:"index" json:"capturedAt"`
}

// TableName keeps the table name used by earlier releases of the app.
func (Observation) TableName() string {
	return "weather_history"
}

// NewObservation builds an observation for city from a reading. CapturedAt is left zero
// so the history store stamps it on append.
func NewObservation(city string, r Reading) Observation {
	return Observation{
		City:        city,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		WindSpeed:   r.WindSpeed,
		Icon:        r.Icon,
		Description: r.Description,
	}
}
