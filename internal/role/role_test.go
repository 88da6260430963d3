package role

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Admin", "admin"},
		{"  DOCTOR  ", "doctor"},
		{"Lab-Technician ", "lab_technician"},
		{"lab_technician", "lab_technician"},
		{"LAB TECHNICIAN", "lab_technician"},
		{"lab -_  technician", "lab_technician"},
		{"_lab_technician_", "lab_technician"},
		{"lab\ttechnician", "lab_technician"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Lab-Technician ", " Pharma cist", "ADMIN", "--", "Doctor__On  Call"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		input string
		want  Route
	}{
		{"admin", RouteAdminDashboard},
		{"Doctor", RouteDoctorDashboard},
		{"PHARMACIST", RoutePharmacistDashboard},
		{"Lab-Technician ", RouteLabTechnicianDashboard},
		{"lab_technician", RouteLabTechnicianDashboard},
		{"LAB TECHNICIAN", RouteLabTechnicianDashboard},
		{"patient", RoutePatientDashboard},
		{"nurse", RoutePatientDashboard},
		{"", RoutePatientDashboard},
	}
	for _, tt := range tests {
		if got := RouteFor(tt.input); got != tt.want {
			t.Errorf("RouteFor(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRouteForDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		if RouteFor("Lab Technician") != RouteLabTechnicianDashboard {
			t.Fatal("RouteFor changed result between calls")
		}
	}
}

func TestIs(t *testing.T) {
	if !Is("Lab Technician", LabTechnician) {
		t.Error("expected Lab Technician to be lab_technician")
	}
	if Is("doctor", Admin) {
		t.Error("expected doctor not to be admin")
	}
}
