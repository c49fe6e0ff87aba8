package notif

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

var (
	kindTag  = "notifkind"
	kindText = "invalid notification kind"

	channelTypeTag  = "channeltype"
	channelTypeText = "invalid channel type"

	clockTag  = "clocktime"
	clockText = "must be a 24h clock value (HH:MM)"
)

// InitValidators registers this package's custom validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(kindTag, kindValidation)
	core.RegisterCustomTranslation(validate, translator, kindTag, kindText)

	_ = validate.RegisterValidation(channelTypeTag, channelTypeValidation)
	core.RegisterCustomTranslation(validate, translator, channelTypeTag, channelTypeText)

	_ = validate.RegisterValidation(clockTag, clockValidation)
	core.RegisterCustomTranslation(validate, translator, clockTag, clockText)
}

func kindValidation(fl validator.FieldLevel) bool {
	return Kind(fl.Field().String()).IsValid()
}

func channelTypeValidation(fl validator.FieldLevel) bool {
	return ChannelType(fl.Field().String()).IsValid()
}

func clockValidation(fl validator.FieldLevel) bool {
	_, err := ParseClock(fl.Field().String())
	return err == nil
}

type (
	NewTemplate struct {
		Name            string   `json:"name" validate:"required,alphanum_"`
		TitleTmpl       string   `json:"title_tmpl" validate:"required"`
		BodyTmpl        string   `json:"body_tmpl" validate:"required"`
		Kind            string   `json:"kind" validate:"required,notifkind"`
		DefaultChannels []string `json:"default_channels" validate:"omitempty,dive,channeltype"`
		RequiredVars    []string `json:"required_vars" validate:"omitempty,dive,alphanum_"`
	}

	UpdateTemplate struct {
		TitleTmpl       string   `json:"title_tmpl"`
		BodyTmpl        string   `json:"body_tmpl"`
		Kind            string   `json:"kind" validate:"omitempty,notifkind"`
		DefaultChannels []string `json:"default_channels" validate:"omitempty,dive,channeltype"`
		RequiredVars    []string `json:"required_vars" validate:"omitempty,dive,alphanum_"`
	}

	NewChannel struct {
		Type     string        `json:"type" validate:"required,channeltype"`
		Name     string        `json:"name" validate:"required"`
		Config   ChannelConfig `json:"config"`
		Activate bool          `json:"activate"`
	}

	UpdateChannel struct {
		Name   string         `json:"name"`
		Config *ChannelConfig `json:"config"`
	}

	UpdatePreference struct {
		Kind       string   `json:"kind" validate:"required,notifkind"`
		Enabled    bool     `json:"enabled"`
		Channels   []string `json:"channels" validate:"omitempty,dive,channeltype"`
		QuietStart string   `json:"quiet_start" validate:"omitempty,clocktime,required_with=QuietEnd"`
		QuietEnd   string   `json:"quiet_end" validate:"omitempty,clocktime,required_with=QuietStart"`
	}
)

func (t *NewTemplate) Validate(validate *validator.Validate) error {
	t.Name = core.CleanString(t.Name, true /* lower */)
	return validate.Struct(t)
}

func (t *UpdateTemplate) Validate(validate *validator.Validate) error {
	return validate.Struct(t)
}

func (c *NewChannel) Validate(validate *validator.Validate) error {
	c.Name = core.CleanString(c.Name)
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

func (c *UpdateChannel) Validate(validate *validator.Validate) error {
	return validate.Struct(c)
}

func (p *UpdatePreference) Validate(validate *validator.Validate) error {
	return validate.Struct(p)
}
