package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(locationStructValidation, Location{})
	v.RegisterStructValidation(stockEditStructValidation, StockEditRequest{})
	v.RegisterStructValidation(browseStructValidation, BrowseQuery{})
	return v
}

// locationStructValidation requires lat and lng together.
func locationStructValidation(sl validatorv10.StructLevel) {
	loc := sl.Current().Interface().(Location)
	if (loc.Lat == nil) != (loc.Lng == nil) {
		sl.ReportError(loc.Lat, "lat", "Lat", "lat_lng_pair", "")
	}
}

func stockEditStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(StockEditRequest)
	if len(req.Quantities) == 0 && len(req.Prices) == 0 && len(req.DisplayNames) == 0 && len(req.Images) == 0 {
		sl.ReportError(req.Quantities, "quantities", "Quantities", "stock_edit_empty", "")
	}
}

func browseStructValidation(sl validatorv10.StructLevel) {
	q := sl.Current().Interface().(BrowseQuery)
	if (q.Lat == nil) != (q.Lng == nil) {
		sl.ReportError(q.Lat, "lat", "Lat", "lat_lng_pair", "")
	}
}
