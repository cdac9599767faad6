package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Selectors identifies the controls of the vendor-generated portal markup.
// The defaults match the generator's naming scheme; every one of them can be
// overridden from the environment when the portal changes.
type Selectors struct {
	LoginField       string
	PasswordField    string
	LoginButton      string
	OTPFieldID       string
	OTPFieldName     string
	AcceptButton     string
	ConfirmButton    string
	DestinationField string
	NextButton       string
	ConceptCombo     string
	TokenField       string
	FinalConfirm     string
	AccountsSelect   string

	// The six movements-grid date inputs: day/month/year, from then to.
	DateFields [6]string
}

// Settle groups the fixed waits the portal needs between interactions.
// The vendor pages re-render server side after most clicks, so these are
// floors, not polling intervals.
type Settle struct {
	AfterLogin    time.Duration
	AfterOTP      time.Duration
	AfterNext     time.Duration
	AfterStep     time.Duration
	AfterConcept  time.Duration
	AfterFinal    time.Duration
	BetweenItems  time.Duration
	BetweenPasses time.Duration
}

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string
	RunLogDir    string
	EnvFilePath  string

	// Portal settings
	PortalBaseURL    string
	LoginURL         string
	TransferFormURL  string
	MovementsGridURL string
	PortalUser       string
	PortalPassword   string
	Headless         bool

	// Mailbox settings (codes arrive by email)
	IMAPHost     string
	IMAPPort     int
	MailUser     string
	MailPassword string
	KnownSender  string

	// Workflow timeouts
	ElementWaitTimeout  time.Duration
	VerifyDetectTimeout time.Duration
	LoginCodeTimeout    time.Duration
	TransferCodeTimeout time.Duration
	TokenPasteTimeout   time.Duration
	MailPollInterval    time.Duration

	Delays    Settle
	Selectors Selectors

	// Defaults for single-run transfers launched without a batch file
	DefaultDestination string
	DefaultAmount      string
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	envPath := getEnv("ENV_FILE", ".env")

	errEnv := godotenv.Load(envPath)
	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found. Relying on OS environment variables.")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	portalBaseURL := strings.TrimRight(getEnv("PORTAL_BASE_URL", ""), "/")

	Cfg = &AppConfig{
		// Core
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./transferbot.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RunLogDir:    getEnv("RUN_LOG_DIR", "run_logs"),
		EnvFilePath:  envPath,

		// Portal
		PortalBaseURL:    portalBaseURL,
		LoginURL:         getEnv("PORTAL_LOGIN_URL", portalBaseURL+"/app_Login"),
		TransferFormURL:  getEnv("PORTAL_TRANSFER_URL", portalBaseURL+"/form_transferencias/"),
		MovementsGridURL: getEnv("PORTAL_MOVEMENTS_URL", portalBaseURL+"/grid_movimientos_cuenta_usuario/"),
		PortalUser:       getEnv("PORTAL_USER", ""),
		PortalPassword:   getEnv("PORTAL_PASSWORD", ""),
		Headless:         getEnvAsBool("HEADLESS", true),

		// Mailbox
		IMAPHost:     getEnv("IMAP_HOST", "imap.gmail.com"),
		IMAPPort:     getEnvAsInt("IMAP_PORT", 993),
		MailUser:     getEnv("MAIL_USER", ""),
		MailPassword: getEnv("MAIL_PASSWORD", ""),
		KnownSender:  getEnv("MAIL_KNOWN_SENDER", ""),

		// Timeouts
		ElementWaitTimeout:  getEnvAsDuration("ELEMENT_WAIT_TIMEOUT", 15*time.Second),
		VerifyDetectTimeout: getEnvAsDuration("VERIFY_DETECT_TIMEOUT", 25*time.Second),
		LoginCodeTimeout:    getEnvAsDuration("LOGIN_CODE_TIMEOUT", 120*time.Second),
		TransferCodeTimeout: getEnvAsDuration("TRANSFER_CODE_TIMEOUT", 90*time.Second),
		TokenPasteTimeout:   getEnvAsDuration("TOKEN_PASTE_TIMEOUT", 75*time.Second),
		MailPollInterval:    getEnvAsDuration("MAIL_POLL_INTERVAL", 5*time.Second),

		Delays: Settle{
			AfterLogin:    getEnvAsDuration("SETTLE_AFTER_LOGIN", 2*time.Second),
			AfterOTP:      getEnvAsDuration("SETTLE_AFTER_OTP", 6*time.Second),
			AfterNext:     getEnvAsDuration("SETTLE_AFTER_NEXT", 5*time.Second),
			AfterStep:     getEnvAsDuration("SETTLE_AFTER_STEP", 2*time.Second),
			AfterConcept:  getEnvAsDuration("SETTLE_AFTER_CONCEPT", 3*time.Second),
			AfterFinal:    getEnvAsDuration("SETTLE_AFTER_FINAL", 10*time.Second),
			BetweenItems:  getEnvAsDuration("BATCH_ITEM_DELAY", 5*time.Second),
			BetweenPasses: getEnvAsDuration("BATCH_PASS_DELAY", 30*time.Second),
		},

		Selectors: Selectors{
			LoginField:       getEnv("SEL_LOGIN_FIELD", "id_sc_field_login"),
			PasswordField:    getEnv("SEL_PASSWORD_FIELD", "id_sc_field_pswd"),
			LoginButton:      getEnv("SEL_LOGIN_BUTTON", `input.button[onclick*="nm_atualiza"]`),
			OTPFieldID:       getEnv("SEL_OTP_FIELD_ID", "id_sc_field_code"),
			OTPFieldName:     getEnv("SEL_OTP_FIELD_NAME", "code"),
			AcceptButton:     getEnv("SEL_ACCEPT_BUTTON", "sc_submit_ajax_bot"),
			ConfirmButton:    getEnv("SEL_CONFIRM_BUTTON", "sub_form_b"),
			DestinationField: getEnv("SEL_DESTINATION_FIELD", "id_sc_field_cuenta"),
			NextButton:       getEnv("SEL_NEXT_BUTTON", "sc_b_stepavc_b"),
			ConceptCombo:     getEnv("SEL_CONCEPT_COMBO", "span.select2-selection.select2-selection--single.css_idconcepto_bcra_obj"),
			TokenField:       getEnv("SEL_TOKEN_FIELD", "id_sc_field_token_cliente"),
			FinalConfirm:     getEnv("SEL_FINAL_CONFIRM", "sc_confirmar_bot"),
			AccountsSelect:   getEnv("SEL_ACCOUNTS_SELECT", "select#account, select[name='account'], select.accounts, select[id*='cuenta']"),
			DateFields: [6]string{
				"SC_fecha_hora_dia", "SC_fecha_hora_mes", "SC_fecha_hora_ano",
				"SC_fecha_hora_input_2_dia", "SC_fecha_hora_input_2_mes", "SC_fecha_hora_input_2_ano",
			},
		},

		// Single-run defaults
		DefaultDestination: getEnv("TRANSFER_DESTINATION", ""),
		DefaultAmount:      getEnv("TRANSFER_AMOUNT", ""),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, Headless=%t",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.Headless)
}

// HasPortalCredentials reports whether the portal side of the flow can run.
func (c *AppConfig) HasPortalCredentials() bool {
	return c.PortalUser != "" && c.PortalPassword != "" && c.PortalBaseURL != ""
}

// HasMailCredentials reports whether the mailbox side of the flow can run.
func (c *AppConfig) HasMailCredentials() bool {
	return c.MailUser != "" && c.MailPassword != ""
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a fallback.
func getEnvAsBool(key string, fallback bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	switch valueStr {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %t", key, valueStr, fallback)
	return fallback
}
