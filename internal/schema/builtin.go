package schema

// Built-in variant names.
const (
	CompanyProfile = "CompanyProfile"
	BuyerProfile   = "BuyerProfile"
)

func confidenceField() Field {
	return Field{
		Name:        ConfidenceField,
		Type:        TypeFloat,
		Required:    true,
		Description: "certainty of the extraction as a whole",
		Min:         bound(0),
		Max:         bound(1),
		Decimals:    4,
	}
}

// Builtins returns the variants every registry starts with.
func Builtins() []Variant {
	return []Variant{
		{
			Name:        CompanyProfile,
			Description: "general profile of a company",
			Fields: []Field{
				{Name: "company_name", Type: TypeString, Required: true},
				{Name: "industry", Type: TypeString, Required: true},
				{Name: "headquarters", Type: TypeString, Description: "city and region"},
				{Name: "employee_count", Type: TypeInteger, Min: bound(0)},
				{Name: "revenue_range", Type: TypeString, Description: "e.g. $50M-$100M"},
				{Name: "key_products", Type: TypeStringList},
				{Name: "description", Type: TypeString, Required: true, Description: "one or two sentences"},
				confidenceField(),
			},
		},
		{
			Name:        BuyerProfile,
			Description: "profile of an acquirer, buyer or private equity firm",
			Fields: []Field{
				{Name: "company_name", Type: TypeString, Required: true},
				{Name: "industry", Type: TypeString, Required: true},
				{Name: "acquisition_interests", Type: TypeStringList},
				{Name: "budget_range", Type: TypeString, Description: "e.g. $10M-$50M EBITDA"},
				{
					Name: "key_contacts",
					Type: TypeObjectList,
					Items: []Field{
						{Name: "name", Type: TypeString},
						{Name: "title", Type: TypeString},
						{Name: "email", Type: TypeString},
					},
				},
				{Name: "deal_history", Type: TypeStringList},
				confidenceField(),
			},
		},
	}
}
