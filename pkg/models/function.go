package models

// FunctionArgument is one placeholder of a function's SQL template.
type FunctionArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"general_type,omitempty"`
	Default     string `json:"default,omitempty"`
}

// Function is a reusable, parameterised question template.
type Function struct {
	Name                   string             `json:"function_name"`
	Description            string             `json:"description"`
	SQLTemplate            string             `json:"sql_template"`
	Arguments              []FunctionArgument `json:"arguments"`
	PostProcessingTemplate string             `json:"plotly_code,omitempty"`
}

// InstantiatedFunction is a Function with argument values substituted.
type InstantiatedFunction struct {
	Function
	ArgumentValues             map[string]string `json:"argument_values"`
	InstantiatedSQL            string            `json:"instantiated_sql"`
	InstantiatedPostProcessing string            `json:"instantiated_post_processing_code,omitempty"`
}
