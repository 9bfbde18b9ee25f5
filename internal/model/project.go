package model

// Project is an internal project or purchase-order record. The pipeline
// only reads projects; they are maintained elsewhere.
type Project struct {
	ID          string
	Name        string
	Description string
	Address     string
	City        string
	TaxID       string
	Budget      string
	Status      string
	Validated   bool
}
