package adzuna

// searchResponse mirrors the Adzuna search endpoint.
type searchResponse struct {
	Results []result `json:"results"`
	Count   int      `json:"count"`
}

type result struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Company      named    `json:"company"`
	Location     named    `json:"location"`
	SalaryMin    float64  `json:"salary_min"`
	SalaryMax    float64  `json:"salary_max"`
	RedirectURL  string   `json:"redirect_url"`
	Created      string   `json:"created"`
	ContractTime string   `json:"contract_time"`
	ContractType string   `json:"contract_type"`
	Category     category `json:"category"`
}

type named struct {
	DisplayName string `json:"display_name"`
}

type category struct {
	Label string `json:"label"`
	Tag   string `json:"tag"`
}
