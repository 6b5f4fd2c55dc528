package models

// Category is a classification bucket presented to users
type Category struct {
	Value       string `json:"value" yaml:"value"`
	Label       string `json:"label" yaml:"label"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// AllCategory is the synthetic category prefixed to every category list
var AllCategory = Category{
	Value:       CategoryAll,
	Label:       "All Categories",
	Icon:        "grid",
	Description: "Every trading platform deal",
}

// CategoryInfo lists the companies of one category
type CategoryInfo struct {
	Companies []string `json:"companies"`
	Count     int      `json:"count"`
}
