package model

// Link is a named auxiliary document of a service
type Link struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// ServiceDescriptor documents one platform surface the platform info tool
// can point users to.
type ServiceDescriptor struct {
	Name          string   `yaml:"name" json:"name"`
	URL           string   `yaml:"url" json:"url"`
	Purpose       string   `yaml:"purpose" json:"purpose"`
	KeyUseCases   []string `yaml:"key_use_cases" json:"key_use_cases"`
	AuxiliaryDocs []Link   `yaml:"auxiliary_docs" json:"auxiliary_docs,omitempty"`
	// Suggestable is false for the surface the user is already on
	Suggestable bool `yaml:"suggestable" json:"suggestable"`
}

// ToolCallResult is the outcome of a platform info lookup. Found=false is a
// normal result, not an error.
type ToolCallResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}
