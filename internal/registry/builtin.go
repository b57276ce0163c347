package registry

import "github.com/mypetparlor/concierge/pkg/models"

// Builtin returns the default read-only operation set of the MyPetParlor
// backend. Used when no descriptor directory is configured; deployments
// with custom backends override it with YAML descriptor files.
func Builtin() *Registry {
	r, err := New(builtinDescriptors)
	if err != nil {
		// The built-in set is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return r
}

var builtinDescriptors = []models.ToolDescriptor{
	// Booking API: bookings belong to customers and teams.
	{
		OperationID:   "booking.list",
		Domain:        models.DomainBooking,
		Method:        "GET",
		Path:          "/bookings",
		Description:   "List bookings, filterable by customerId, teamId and date range.",
		RequiredRoles: []string{"owner", "manager", "groomer"},
		FieldRules: []models.FieldRule{
			{Path: "customer.phone", Roles: []string{"owner", "manager"}},
			{Path: "price", Roles: []string{"owner", "manager"}},
		},
	},
	{
		OperationID:   "booking.get",
		Domain:        models.DomainBooking,
		Method:        "GET",
		Path:          "/bookings/{id}",
		Description:   "Fetch one booking by id.",
		RequiredRoles: []string{"owner", "manager", "groomer"},
		FieldRules: []models.FieldRule{
			{Path: "customer.phone", Roles: []string{"owner", "manager"}},
			{Path: "price", Roles: []string{"owner", "manager"}},
		},
	},

	// Customer API: customers belong to tenants with team associations.
	{
		OperationID:   "customer.list",
		Domain:        models.DomainCustomer,
		Method:        "GET",
		Path:          "/customers",
		Description:   "List customers for the tenant.",
		RequiredRoles: []string{"owner", "manager"},
		FieldRules: []models.FieldRule{
			{Path: "email", Roles: []string{"owner", "manager"}},
			{Path: "phone", Roles: []string{"owner", "manager"}},
			{Path: "notes", Condition: `"owner" in roles`},
		},
	},
	{
		OperationID:   "customer.get",
		Domain:        models.DomainCustomer,
		Method:        "GET",
		Path:          "/customers/{id}",
		Description:   "Fetch one customer by id. The canonical customer id is the `id` field.",
		RequiredRoles: []string{"owner", "manager"},
		FieldRules: []models.FieldRule{
			{Path: "email", Roles: []string{"owner", "manager"}},
			{Path: "phone", Roles: []string{"owner", "manager"}},
			{Path: "notes", Condition: `"owner" in roles`},
		},
	},
	{
		OperationID:   "customer.pets",
		Domain:        models.DomainCustomer,
		Method:        "GET",
		Path:          "/pets",
		Description:   "List a customer's pets, filtered by customerId.",
		RequiredRoles: []string{"owner", "manager", "groomer"},
	},
	{
		OperationID:   "customer.addresses",
		Domain:        models.DomainCustomer,
		Method:        "GET",
		Path:          "/addresses",
		Description:   "List a customer's addresses, filtered by customerId.",
		RequiredRoles: []string{"owner", "manager", "groomer"},
	},

	// Document API: legal documents (refund policy, terms).
	{
		OperationID: "document.list",
		Domain:      models.DomainDocument,
		Method:      "GET",
		Path:        "/documents",
		Description: "List legal documents for the tenant.",
	},
	{
		OperationID: "document.get",
		Domain:      models.DomainDocument,
		Method:      "GET",
		Path:        "/documents/{id}",
		Description: "Fetch one legal document by id.",
	},

	// Team API: teams and their employees belong to tenants.
	{
		OperationID:   "team.list",
		Domain:        models.DomainTeam,
		Method:        "GET",
		Path:          "/teams",
		Description:   "List teams for the tenant.",
		RequiredRoles: []string{"owner", "manager"},
	},
	{
		OperationID:   "team.employees",
		Domain:        models.DomainTeam,
		Method:        "GET",
		Path:          "/employees",
		Description:   "List employees, filterable by teamId.",
		RequiredRoles: []string{"owner", "manager"},
		FieldRules: []models.FieldRule{
			{Path: "salary", Condition: `"owner" in roles`},
			{Path: "phone", Roles: []string{"owner", "manager"}},
		},
	},

	// Tenant API: the tenant resource is the parent of everything else.
	{
		OperationID:   "tenant.get",
		Domain:        models.DomainTenant,
		Method:        "GET",
		Path:          "/tenants/{id}",
		Description:   "Fetch the tenant resource.",
		RequiredRoles: []string{"owner"},
		FieldRules: []models.FieldRule{
			{Path: "billing", Roles: []string{"owner"}},
			{Path: "subscription", Roles: []string{"owner"}},
		},
	},
}
