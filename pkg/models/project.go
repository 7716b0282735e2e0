package models

// Project is one registered application. The key is the public ingestion
// credential probes send with every report; origin is a CSV allow-list
// (or "*") matched against the request's Origin header.
type Project struct {
	ID     int64  `db:"id"     json:"id"`
	Key    string `db:"key"    json:"key"`
	Name   string `db:"name"   json:"name"`
	Origin string `db:"origin" json:"origin"`
	Scrape bool   `db:"scrape" json:"scrape"`
	Tags   string `db:"tags"   json:"tags"`
}
