package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mail     MailConfig     `mapstructure:"mail"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Bitrix   BitrixConfig   `mapstructure:"bitrix"`
	Google   GoogleConfig   `mapstructure:"google"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Sender   SenderConfig   `mapstructure:"sender"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

type JobsConfig struct {
	HotDeadlineHours int    `mapstructure:"hot_deadline_hours"`
	StaffCSV         string `mapstructure:"staff_csv"`
	BookSender       string `mapstructure:"book_sender"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns a keyword/value connection string for the pgx driver.
func (p PostgresConfig) DSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslmode)
}

type MailConfig struct {
	IMAPHost       string   `mapstructure:"imap_host"`
	IMAPPort       int      `mapstructure:"imap_port"`
	SkipFolders    []string `mapstructure:"skip_folders"`
	MaxPerFolder   int      `mapstructure:"max_per_folder"`
	SignatureMark  string   `mapstructure:"signature_mark"`
	ConnectRetries int      `mapstructure:"connect_retries"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type BitrixConfig struct {
	Domain   string                 `mapstructure:"domain"`
	UserID   string                 `mapstructure:"user_id"`
	Session  BitrixSession          `mapstructure:"session"`
	Queries  map[string]BitrixQuery `mapstructure:"queries"`
	RegionUF string                 `mapstructure:"region_field"`
	NmnUF    string                 `mapstructure:"nomenclature_field"`
	DocUF    string                 `mapstructure:"document_field"`
}

type BitrixSession struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// BitrixQuery binds a logical query name to a webhook code and REST method.
type BitrixQuery struct {
	Code   string `mapstructure:"code"`
	Method string `mapstructure:"method"`
}

type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	PassphraseDocID string `mapstructure:"passphrase_doc_id"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetRange      string `mapstructure:"sheet_range"`
	DriveFolderID   string `mapstructure:"drive_folder_id"`
	OwnerEmail      string `mapstructure:"owner_email"`
}

type GeminiConfig struct {
	Model       string `mapstructure:"model"`
	PromptsFile string `mapstructure:"prompts_file"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type SenderConfig struct {
	TemplateFile    string `mapstructure:"template_file"`
	DefaultDocName  string `mapstructure:"default_doc_name"`
	ImageURL        string `mapstructure:"image_url"`
	MessageIDDomain string `mapstructure:"message_id_domain"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	OpsChat  string `mapstructure:"ops_chat_id"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/app/configs")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Environment variables override
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CRM")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFrom reads configuration from an explicit file path.
func LoadFrom(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CRM")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
