package role

import (
	"strings"
	"unicode"
)

// Route identifies the landing screen for a signed-in user.
type Route string

const (
	RouteAdminDashboard         Route = "AdminDashboard"
	RouteDoctorDashboard        Route = "DoctorDashboard"
	RoutePharmacistDashboard    Route = "PharmacistDashboard"
	RouteLabTechnicianDashboard Route = "LabTechnicianDashboard"
	RoutePatientDashboard       Route = "PatientDashboard"
)

// Normalized role names.
const (
	Admin         = "admin"
	Doctor        = "doctor"
	Pharmacist    = "pharmacist"
	LabTechnician = "lab_technician"
	Patient       = "patient"
)

var routes = map[string]Route{
	Admin:         RouteAdminDashboard,
	Doctor:        RouteDoctorDashboard,
	Pharmacist:    RoutePharmacistDashboard,
	LabTechnician: RouteLabTechnicianDashboard,
}

// Normalize trims and lowercases role and collapses every run of
// whitespace, hyphens and underscores into a single underscore.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(role string) string {
	var b strings.Builder
	b.Grow(len(role))
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(role)) {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// RouteFor returns the landing route for role. Unknown and empty roles land
// on the patient dashboard.
func RouteFor(role string) Route {
	if r, ok := routes[Normalize(role)]; ok {
		return r
	}
	return RoutePatientDashboard
}

// Is reports whether role normalizes to want.
func Is(role, want string) bool {
	return Normalize(role) == Normalize(want)
}
