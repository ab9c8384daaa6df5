package models

// AllModels lists every table for AutoMigrate.
var AllModels = []any{
	&Agent{},
	&Challenge{},
	&Match{},
	&Submission{},
	&Transaction{},
	&APIKey{},
	&VerificationCode{},
}
