package model

// Macros holds the nutrition totals of a reference dish. Nil means the dataset
// has no value for the field.
type Macros struct {
	TotalCalories *float64 `gorm:"column:total_calories" json:"total_calories,omitempty"`
	TotalMass     *float64 `gorm:"column:total_mass" json:"total_mass,omitempty"`
	TotalFat      *float64 `gorm:"column:total_fat" json:"total_fat,omitempty"`
	TotalCarb     *float64 `gorm:"column:total_carb" json:"total_carb,omitempty"`
	TotalProtein  *float64 `gorm:"column:total_protein" json:"total_protein,omitempty"`
}
