package metaapi

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultDomain is the production MetaApi gateway domain.
const DefaultDomain = "agiliumtrade.agiliumtrade.ai"

// PacketLoggerOptions configures the forensic packet log (spec.md S6,
// S4.2/4.9). FileNumberLimit and LogFileSizeInHours of 0 mean "use the
// packetlogger package default" and are validated only when non-zero.
type PacketLoggerOptions struct {
	Enabled                bool `validate:"-"`
	FileNumberLimit        int  `validate:"omitempty,min=1"`
	LogFileSizeInHours     int  `validate:"omitempty,min=1"`
	CompressPrices         bool `validate:"-"`
	CompressSpecifications bool `validate:"-"`
	GzipRotatedBuckets     bool `validate:"-"`
}

// Options configures a MetaApi client (spec.md S6 Configuration options,
// S4.9 expansion).
type Options struct {
	// Application identifies the caller to the gateway; must match
	// ^[A-Za-z0-9_]+$ (spec.md S6).
	Application string `validate:"omitempty,metaapi_appname"`
	// Domain is the gateway host, e.g. "agiliumtrade.agiliumtrade.ai".
	Domain string `validate:"omitempty,hostname_rfc1123"`

	RequestTimeout        time.Duration `validate:"omitempty,gt=0"`
	ConnectTimeout        time.Duration `validate:"omitempty,gt=0"`
	PacketOrderingTimeout time.Duration `validate:"omitempty,gt=0"`

	PacketLogger PacketLoggerOptions

	// DenormalizePrices enables recomputing position profit from the
	// latest price tick on every symbol update (spec.md S9, default
	// false per the resolved Open Question).
	DenormalizePrices bool `validate:"-"`
}

var appNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func init() {
	if err := structValidator.RegisterValidation("metaapi_appname", func(fl validator.FieldLevel) bool {
		return appNamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register metaapi_appname validator: %v", err))
	}
}

var structValidator = validator.New()

// Validate checks Options against its struct tags before defaults are
// applied, so a zero-value optional field never trips a constraint
// meant for a user-supplied value.
func (o Options) Validate() error {
	if err := structValidator.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// withDefaults fills every unset field with its spec.md S6 default.
func (o Options) withDefaults() Options {
	if o.Application == "" {
		o.Application = "MetaApi"
	}
	if o.Domain == "" {
		o.Domain = DefaultDomain
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 60 * time.Second
	}
	if o.PacketOrderingTimeout <= 0 {
		o.PacketOrderingTimeout = 60 * time.Second
	}
	if o.PacketLogger.Enabled {
		if o.PacketLogger.FileNumberLimit <= 0 {
			o.PacketLogger.FileNumberLimit = 12
		}
		if o.PacketLogger.LogFileSizeInHours <= 0 {
			o.PacketLogger.LogFileSizeInHours = 4
		}
		// CompressPrices/CompressSpecifications default true per
		// spec.md S6; since both are plain bools there is no way to
		// tell "unset" from "explicitly false" here, so an Options
		// value that wants compression off must be passed through
		// packetlogger.Options directly instead of via PacketLogger
		// (documented limitation, see DESIGN.md).
		o.PacketLogger.CompressPrices = true
		o.PacketLogger.CompressSpecifications = true
	}
	return o
}
