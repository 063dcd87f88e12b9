package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Operations accepted in image_operation.
const (
	OperationImport = "IMPORT"
	OperationDelete = "DELETE"
	OperationStatus = "STATUS"
)

// Config is the full runtime configuration of imagectl.
type Config struct {
	EnterpriseID           string   `yaml:"enterprise_id" validate:"required"`
	AccountGroupID         string   `yaml:"account_group_id"`
	AccountGroupName       string   `yaml:"account_group_name"`
	AccountList            []string `yaml:"account_list" validate:"omitempty,dive,required"`
	ImageOperation         string   `yaml:"image_operation" validate:"required,oneof=IMPORT DELETE STATUS"`
	LogOperationFileName   string   `yaml:"log_operation_file_name" validate:"required"`
	LogImageStatusFileName string   `yaml:"log_image_status_file_name" validate:"required"`
	Processes              int      `yaml:"processes" validate:"gte=1,lte=64"`

	COS       COSDetails   `yaml:"cos_bucket_details"`
	Image     ImageDetails `yaml:"image_details"`
	Retry     Retry        `yaml:"retry"`
	Endpoints Endpoints    `yaml:"endpoints"`
	Report    Report       `yaml:"report"`
	Telemetry Telemetry    `yaml:"telemetry"`

	// NoWait skips status convergence after an asynchronous operation.
	NoWait bool `yaml:"-"`

	Env Env `yaml:"-"`
}

// COSDetails locates the image file in cloud object storage.
type COSDetails struct {
	Region        string `yaml:"cos_region"`
	Bucket        string `yaml:"cos_bucket"`
	ImageFileName string `yaml:"cos_image_file_name"`
	StorageType   string `yaml:"storage_type" validate:"omitempty,oneof=tier0 tier1 tier3 tier5k"`
}

// ImageDetails describes the boot image.
type ImageDetails struct {
	Name        string `yaml:"image_name" validate:"required"`
	LicenseType string `yaml:"license_type"`
	Product     string `yaml:"product"`
	Vendor      string `yaml:"vendor"`
}

// Retry bounds status convergence.
type Retry struct {
	ImportWait  time.Duration `yaml:"import_wait" validate:"gte=0"`
	DeleteWait  time.Duration `yaml:"delete_wait" validate:"gte=0"`
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
}

// Endpoints overrides the public cloud endpoints.
type Endpoints struct {
	IAM        string `yaml:"iam" validate:"omitempty,url"`
	Enterprise string `yaml:"enterprise" validate:"omitempty,url"`
	PowerVS    string `yaml:"powervs" validate:"omitempty,url"`
	COS        string `yaml:"cos" validate:"omitempty,url"`
}

// Report controls what happens to the persisted reports.
type Report struct {
	Archive      bool   `yaml:"archive"`
	Sign         bool   `yaml:"sign"`
	UploadBucket string `yaml:"upload_bucket"`
	UploadPrefix string `yaml:"upload_prefix"`
	Summary      bool   `yaml:"summary"`
}

// Telemetry configures optional observability sinks.
type Telemetry struct {
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
	NATSURL         string `yaml:"nats_url" validate:"omitempty,url"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	PushgatewayURL  string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Listen          string `yaml:"listen" validate:"omitempty,hostname_port"`
}

// Env holds values read from the process environment.
type Env struct {
	APIKey       string `env:"IBMCLOUD_API_KEY" validate:"required"`
	COSAccessKey string `env:"COS_ACCESS_KEY"`
	COSSecretKey string `env:"COS_SECRET_KEY"`
	AgeSecretKey string `env:"AGE_SECRET_KEY"`
	AgePublicKey string `env:"AGE_PUBLIC_KEY"`

	EnterpriseID     string `env:"IBMCLOUD_ENTERPRISE_ACCOUNT_ID"`
	AccountGroupName string `env:"IBMCLOUD_ACCOUNT_GROUP_NAME"`
	ImageOperation   string `env:"POWERVS_IMAGE_OPERATION"`
	ImageName        string `env:"POWERVS_IMAGE_NAME"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		LogOperationFileName:   "pi_image_manager_log.json",
		LogImageStatusFileName: "pi_image_status_log.json",
		Processes:              5,
		COS:                    COSDetails{StorageType: "tier3"},
		Retry: Retry{
			ImportWait:  30 * time.Minute,
			DeleteWait:  5 * time.Minute,
			Interval:    5 * time.Minute,
			MaxAttempts: 6,
		},
		Report: Report{Summary: true},
	}
}

// Load reads the YAML file at path (optional) and the environment through lookuper.
// A nil lookuper reads the process environment. The result is not validated.
func Load(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	env, err := LoadEnv(ctx, lookuper)
	if err != nil {
		return Config{}, err
	}
	cfg.Env = env
	cfg.applyEnvFallbacks()
	cfg.ImageOperation = strings.ToUpper(strings.TrimSpace(cfg.ImageOperation))
	return cfg, nil
}

// LoadEnv reads only the environment-backed settings.
func LoadEnv(ctx context.Context, lookuper envconfig.Lookuper) (Env, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	var env Env
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &env, Lookuper: lookuper}); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyEnvFallbacks() {
	if c.EnterpriseID == "" {
		c.EnterpriseID = c.Env.EnterpriseID
	}
	if c.AccountGroupID == "" && c.AccountGroupName == "" && len(c.AccountList) == 0 {
		c.AccountGroupName = c.Env.AccountGroupName
	}
	if c.ImageOperation == "" {
		c.ImageOperation = c.Env.ImageOperation
	}
	if c.Image.Name == "" {
		c.Image.Name = c.Env.ImageName
	}
}

// Overrides are command-line values that replace file settings when set.
type Overrides struct {
	Operation string
	Processes int
	NoWait    bool
	Listen    string
}

// Apply merges o into c.
func (c *Config) Apply(o Overrides) {
	if op := strings.TrimSpace(o.Operation); op != "" {
		c.ImageOperation = strings.ToUpper(op)
	}
	if o.Processes > 0 {
		c.Processes = o.Processes
	}
	if o.NoWait {
		c.NoWait = true
	}
	if o.Listen != "" {
		c.Telemetry.Listen = o.Listen
	}
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return convertValidationError(err)
	}

	groupSet := c.AccountGroupID != "" || c.AccountGroupName != ""
	if groupSet == (len(c.AccountList) > 0) {
		return errors.New("exactly one of account_group_id/account_group_name or account_list must be set")
	}
	if c.AccountGroupID != "" && c.AccountGroupName != "" {
		return errors.New("account_group_id and account_group_name are mutually exclusive")
	}

	var problems []string
	if c.ImageOperation == OperationImport {
		if c.COS.Region == "" {
			problems = append(problems, "cos_bucket_details.cos_region is required for IMPORT")
		}
		if c.COS.Bucket == "" {
			problems = append(problems, "cos_bucket_details.cos_bucket is required for IMPORT")
		}
		if c.COS.ImageFileName == "" {
			problems = append(problems, "cos_bucket_details.cos_image_file_name is required for IMPORT")
		}
		if c.Env.COSAccessKey == "" || c.Env.COSSecretKey == "" {
			problems = append(problems, "COS_ACCESS_KEY and COS_SECRET_KEY are required for IMPORT")
		}
	}
	if c.Report.Sign && c.Env.AgeSecretKey == "" {
		problems = append(problems, "AGE_SECRET_KEY is required when report.sign is enabled")
	}
	if c.Report.UploadBucket != "" {
		if c.COS.Region == "" {
			problems = append(problems, "cos_bucket_details.cos_region is required for report.upload_bucket")
		}
		if c.Env.COSAccessKey == "" || c.Env.COSSecretKey == "" {
			problems = append(problems, "COS_ACCESS_KEY and COS_SECRET_KEY are required for report.upload_bucket")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
