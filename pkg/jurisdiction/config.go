package jurisdiction

// Config holds resolver configuration.
type Config struct {
	// DefaultCode is the jurisdiction assigned when no calling-code prefix
	// matches. Fallbacks are logged as warnings.
	DefaultCode string `env:"JURISDICTION_DEFAULT" envDefault:"BR"`

	// Overrides force specific numbers into a jurisdiction regardless of
	// prefix (test and operator-forced numbers). Format:
	// "+5511999999999:PT,+34600000000:BR".
	Overrides map[string]string `env:"JURISDICTION_OVERRIDES" envSeparator:"," envKeyValSeparator:":"`
}
