package models

import "time"

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geofence is a circular perimeter around a center point.
type Geofence struct {
	Lat          float64 `json:"lat" db:"lat"`
	Lon          float64 `json:"lon" db:"lon"`
	RadiusMeters float64 `json:"radius" db:"radius_meters"`
}

func (g Geofence) Center() GeoPoint {
	return GeoPoint{Lat: g.Lat, Lon: g.Lon}
}

type Activity struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Date        time.Time  `json:"date" db:"date"`
	Geofences   []Geofence `json:"locations"`
	CreatedBy   string     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type AttendanceStatus string

const AttendancePresent AttendanceStatus = "present"

// AttendanceRecord is unique per (IdentityID, ActivityID). ActivityName and
// ActivityDate are filled in on reads.
type AttendanceRecord struct {
	ID           string           `json:"id" db:"id"`
	IdentityID   string           `json:"identity_id" db:"identity_id"`
	ActivityID   string           `json:"activity_id" db:"activity_id"`
	ActivityName string           `json:"activity_name,omitempty" db:"activity_name"`
	ActivityDate time.Time        `json:"activity_date" db:"activity_date"`
	Status       AttendanceStatus `json:"status" db:"status"`
	Timestamp    time.Time        `json:"timestamp" db:"timestamp"`
	CreatedBy    string           `json:"created_by" db:"created_by"`
}
