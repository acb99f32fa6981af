package domain

import (
	"encoding/json"
	"fmt"
)

// TaskType tags the closed set of generation parameter variants.
type TaskType string

// Supported task types.
const (
	TaskTypeTxt2Img TaskType = "txt2img"
	TaskTypeImg2Img TaskType = "img2img"
	TaskTypeInpaint TaskType = "inpaint"
)

// Scheduler choices accepted by the generation engine.
const (
	SchedulerPLMS = "plms"
	SchedulerDDIM = "ddim"
	SchedulerKLMS = "k-lms"
)

// Default sampling settings applied when a request leaves them unset.
const (
	DefaultSteps    = 20
	DefaultGuidance = 7.5
	DefaultWidth    = 512
	DefaultHeight   = 512
)

// Params is the closed union of generation parameter variants. Concrete
// types are *Txt2ImgParams, *Img2ImgParams and *InpaintParams; type-switch
// over those three to dispatch. Use MarshalParams/UnmarshalParams for the
// wire form, which carries the task_type tag.
type Params interface {
	// TaskType returns the variant tag.
	TaskType() TaskType

	// Common returns the fields shared by every variant.
	Common() *CommonParams

	// Validate checks the parameters and returns a domain validation error
	// if they cannot be executed.
	Validate() error

	// Clone returns a deep copy, so the resolved-parameter echo on a result
	// can diverge (seed filling) without mutating the submitted task.
	Clone() Params

	isParams()
}

// CommonParams holds the fields shared by all generation variants.
type CommonParams struct {
	// Model references the generation model to load.
	Model string `json:"model"`

	// Prompt is the positive text prompt.
	Prompt string `json:"prompt"`

	// NegativePrompt steers generation away from its content.
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Steps is the sampling step count.
	Steps int `json:"steps"`

	// Guidance is the classifier-free guidance scale.
	Guidance float64 `json:"guidance"`

	// Scheduler selects the sampling scheduler.
	Scheduler string `json:"scheduler"`

	// Seed pins the random source. Nil requests a randomized seed; the
	// resolved value is echoed back on the generated result.
	Seed *int64 `json:"seed"`

	// SafetyFilter toggles the engine's output filter.
	SafetyFilter bool `json:"safety_filter"`
}

// Common implements Params.
func (p *CommonParams) Common() *CommonParams { return p }

// applyDefaults fills unset shared fields in place.
func (p *CommonParams) applyDefaults() {
	if p.Steps == 0 {
		p.Steps = DefaultSteps
	}
	if p.Guidance == 0 {
		p.Guidance = DefaultGuidance
	}
	if p.Scheduler == "" {
		p.Scheduler = SchedulerPLMS
	}
}

// validate checks the shared fields.
func (p *CommonParams) validate() error {
	if p.Model == "" {
		return ErrEmptyModel
	}
	if p.Prompt == "" {
		return ErrEmptyPrompt
	}
	if p.Steps <= 0 {
		return ErrInvalidSteps
	}
	switch p.Scheduler {
	case SchedulerPLMS, SchedulerDDIM, SchedulerKLMS:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScheduler, p.Scheduler)
	}
	return nil
}

// clone copies the shared fields, including the seed pointee.
func (p *CommonParams) clone() CommonParams {
	out := *p
	if p.Seed != nil {
		seed := *p.Seed
		out.Seed = &seed
	}
	return out
}

// Txt2ImgParams generates an image from a text prompt alone.
type Txt2ImgParams struct {
	CommonParams

	Width  int `json:"width"`
	Height int `json:"height"`
}

// TaskType implements Params.
func (p *Txt2ImgParams) TaskType() TaskType { return TaskTypeTxt2Img }

func (p *Txt2ImgParams) isParams() {}

// ApplyDefaults fills unset fields in place.
func (p *Txt2ImgParams) ApplyDefaults() {
	p.applyDefaults()
	if p.Width == 0 {
		p.Width = DefaultWidth
	}
	if p.Height == 0 {
		p.Height = DefaultHeight
	}
}

// Validate implements Params.
func (p *Txt2ImgParams) Validate() error {
	return p.validate()
}

// Clone implements Params.
func (p *Txt2ImgParams) Clone() Params {
	out := *p
	out.CommonParams = p.clone()
	return &out
}

// Img2ImgParams generates an image conditioned on a source image.
type Img2ImgParams struct {
	CommonParams

	// InitialImage locates the source image blob.
	InitialImage BlobURL `json:"initial_image"`

	// Strength is the denoising strength applied to the source image.
	Strength float64 `json:"strength"`
}

// TaskType implements Params.
func (p *Img2ImgParams) TaskType() TaskType { return TaskTypeImg2Img }

func (p *Img2ImgParams) isParams() {}

// ApplyDefaults fills unset fields in place.
func (p *Img2ImgParams) ApplyDefaults() {
	p.applyDefaults()
	if p.Strength == 0 {
		p.Strength = 0.8
	}
}

// Validate implements Params.
func (p *Img2ImgParams) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.InitialImage == "" {
		return ErrMissingSourceImage
	}
	return nil
}

// Clone implements Params.
func (p *Img2ImgParams) Clone() Params {
	out := *p
	out.CommonParams = p.clone()
	return &out
}

// InpaintParams regenerates the masked region of a source image.
type InpaintParams struct {
	CommonParams

	// InitialImage locates the source image blob.
	InitialImage BlobURL `json:"initial_image"`

	// Mask locates the mask blob; white regions are repainted.
	Mask BlobURL `json:"mask"`
}

// TaskType implements Params.
func (p *InpaintParams) TaskType() TaskType { return TaskTypeInpaint }

func (p *InpaintParams) isParams() {}

// ApplyDefaults fills unset fields in place.
func (p *InpaintParams) ApplyDefaults() {
	p.applyDefaults()
}

// Validate implements Params.
func (p *InpaintParams) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.InitialImage == "" || p.Mask == "" {
		return ErrMissingSourceImage
	}
	return nil
}

// Clone implements Params.
func (p *InpaintParams) Clone() Params {
	out := *p
	out.CommonParams = p.clone()
	return &out
}

// Compile-time union membership checks.
var (
	_ Params = (*Txt2ImgParams)(nil)
	_ Params = (*Img2ImgParams)(nil)
	_ Params = (*InpaintParams)(nil)
)

// ApplyDefaults fills unset fields on any parameter variant in place.
func ApplyDefaults(p Params) {
	switch v := p.(type) {
	case *Txt2ImgParams:
		v.ApplyDefaults()
	case *Img2ImgParams:
		v.ApplyDefaults()
	case *InpaintParams:
		v.ApplyDefaults()
	}
}

// MarshalParams encodes a parameter variant with its task_type tag.
func MarshalParams(p Params) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(p.TaskType())
	if err != nil {
		return nil, err
	}
	fields["task_type"] = tag
	return json.Marshal(fields)
}

// UnmarshalParams decodes a tagged parameter variant. An unknown or missing
// task_type tag is an error.
func UnmarshalParams(data []byte) (Params, error) {
	var probe struct {
		TaskType TaskType `json:"task_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding task_type tag: %w", err)
	}

	var p Params
	switch probe.TaskType {
	case TaskTypeTxt2Img:
		p = &Txt2ImgParams{}
	case TaskTypeImg2Img:
		p = &Img2ImgParams{}
	case TaskTypeInpaint:
		p = &InpaintParams{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, probe.TaskType)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
