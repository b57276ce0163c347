package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/pkg/models"
)

func TestNew_RejectsUnknownDomain(t *testing.T) {
	_, err := registry.New([]models.ToolDescriptor{
		{OperationID: "x.list", Domain: "warehouse", Method: "GET", Path: "/x"},
	})
	if err == nil {
		t.Fatal("New() accepted a descriptor with an unknown domain")
	}
}

func TestNew_RejectsDuplicateOperationID(t *testing.T) {
	desc := models.ToolDescriptor{OperationID: "booking.list", Domain: models.DomainBooking, Method: "GET", Path: "/bookings"}
	_, err := registry.New([]models.ToolDescriptor{desc, desc})
	if err == nil {
		t.Fatal("New() accepted a duplicate operation id")
	}
}

func TestNew_RejectsRelativePath(t *testing.T) {
	_, err := registry.New([]models.ToolDescriptor{
		{OperationID: "booking.list", Domain: models.DomainBooking, Method: "GET", Path: "bookings"},
	})
	if err == nil {
		t.Fatal("New() accepted a relative path")
	}
}

func TestNew_RejectsUnsupportedMethod(t *testing.T) {
	_, err := registry.New([]models.ToolDescriptor{
		{OperationID: "booking.list", Domain: models.DomainBooking, Method: "TRACE", Path: "/bookings"},
	})
	if err == nil {
		t.Fatal("New() accepted an unsupported method")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	descriptor := `domain: booking
operations:
  - operation_id: booking.list
    method: GET
    path: /bookings
    required_roles: [owner, manager]
  - operation_id: booking.get
    method: GET
    path: /bookings/{id}
    required_roles: [owner, manager, groomer]
    field_rules:
      - path: internal_notes
        roles: [owner]
`
	if err := os.WriteFile(filepath.Join(dir, "booking.yaml"), []byte(descriptor), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	// Non-descriptor files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	reg, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reg.Len())
	}

	get, found := reg.Get("booking.get")
	if !found {
		t.Fatal("booking.get not registered")
	}
	if get.Domain != models.DomainBooking {
		t.Errorf("Domain = %q, want file-level domain applied", get.Domain)
	}
	if len(get.FieldRules) != 1 || get.FieldRules[0].Path != "internal_notes" {
		t.Errorf("FieldRules = %v, want internal_notes rule", get.FieldRules)
	}
}

func TestForDomain_SortedByOperationID(t *testing.T) {
	reg, err := registry.New([]models.ToolDescriptor{
		{OperationID: "customer.pets", Domain: models.DomainCustomer, Method: "GET", Path: "/pets"},
		{OperationID: "customer.addresses", Domain: models.DomainCustomer, Method: "GET", Path: "/addresses"},
		{OperationID: "customer.list", Domain: models.DomainCustomer, Method: "GET", Path: "/customers"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ops := reg.ForDomain(models.DomainCustomer)
	want := []string{"customer.addresses", "customer.list", "customer.pets"}
	if len(ops) != len(want) {
		t.Fatalf("len(ops) = %d, want %d", len(ops), len(want))
	}
	for i, op := range ops {
		if op.OperationID != want[i] {
			t.Errorf("ops[%d] = %s, want %s", i, op.OperationID, want[i])
		}
	}
}

func TestBuiltin_CoversBackendDomains(t *testing.T) {
	reg := registry.Builtin()

	for _, d := range []models.Domain{
		models.DomainBooking,
		models.DomainCustomer,
		models.DomainDocument,
		models.DomainTeam,
		models.DomainTenant,
	} {
		if len(reg.ForDomain(d)) == 0 {
			t.Errorf("built-in catalog has no operations for %s", d)
		}
	}
}
