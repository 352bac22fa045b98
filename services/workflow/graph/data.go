// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// dataValidate checks decoded node configuration.
var dataValidate *validator.Validate

func init() {
	dataValidate = validator.New()
	_ = dataValidate.RegisterValidation("mediaref", validateMediaRef)
}

// validateMediaRef accepts a data URI or an http(s) URL.
func validateMediaRef(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return strings.HasPrefix(v, "data:") ||
		strings.HasPrefix(v, "http://") ||
		strings.HasPrefix(v, "https://")
}

// =============================================================================
// Typed Node Data
// =============================================================================

// Visitor handles each node kind. Adding a kind adds a method here, so every
// implementation stops compiling until it handles the new kind.
type Visitor interface {
	VisitText(d TextData) error
	VisitImageSource(d ImageSourceData) error
	VisitVideoSource(d VideoSourceData) error
	VisitCrop(d CropData) error
	VisitExtractFrame(d ExtractFrameData) error
	VisitInference(d InferenceData) error
}

// Data is the decoded configuration of one node.
type Data interface {
	Kind() Kind
	Accept(v Visitor) error
	sealed()
}

// TextData is a literal prompt.
type TextData struct {
	Text string `json:"text"`
}

// ImageSourceData references an uploaded image.
type ImageSourceData struct {
	ImageURL string `json:"imageUrl" validate:"omitempty,mediaref"`
}

// VideoSourceData references an uploaded video.
type VideoSourceData struct {
	VideoURL string `json:"videoUrl" validate:"omitempty,mediaref"`
}

// CropData is a crop rectangle in percent of the source image.
type CropData struct {
	X      Percent `json:"x" validate:"gte=0,lte=100"`
	Y      Percent `json:"y" validate:"gte=0,lte=100"`
	Width  Percent `json:"width" validate:"gte=0,lte=100"`
	Height Percent `json:"height" validate:"gte=0,lte=100"`
}

// ExtractFrameData selects a frame either as "NN%" of the clip or as seconds.
type ExtractFrameData struct {
	Timestamp Timestamp `json:"timestamp"`
}

// InferenceData configures a model call.
type InferenceData struct {
	SystemPrompt string `json:"systemPrompt,omitempty" validate:"max=32768"`
	Model        string `json:"model,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty" validate:"gte=0,lte=128000"`
}

func (TextData) Kind() Kind         { return KindText }
func (ImageSourceData) Kind() Kind  { return KindImageSource }
func (VideoSourceData) Kind() Kind  { return KindVideoSource }
func (CropData) Kind() Kind         { return KindCrop }
func (ExtractFrameData) Kind() Kind { return KindExtractFrame }
func (InferenceData) Kind() Kind    { return KindInference }

func (d TextData) Accept(v Visitor) error         { return v.VisitText(d) }
func (d ImageSourceData) Accept(v Visitor) error  { return v.VisitImageSource(d) }
func (d VideoSourceData) Accept(v Visitor) error  { return v.VisitVideoSource(d) }
func (d CropData) Accept(v Visitor) error         { return v.VisitCrop(d) }
func (d ExtractFrameData) Accept(v Visitor) error { return v.VisitExtractFrame(d) }
func (d InferenceData) Accept(v Visitor) error    { return v.VisitInference(d) }

func (TextData) sealed()         {}
func (ImageSourceData) sealed()  {}
func (VideoSourceData) sealed()  {}
func (CropData) sealed()         {}
func (ExtractFrameData) sealed() {}
func (InferenceData) sealed()    {}

// DecodeData decodes and validates the configuration of a node of the given
// kind. Missing fields take their defaults: a crop covers the whole frame and
// a frame extraction seeks to "0".
//
// All failures are validation errors.
func DecodeData(kind Kind, raw json.RawMessage) (Data, error) {
	op := "decode " + string(kind)

	var d Data
	var err error
	switch kind {
	case KindText:
		var v TextData
		err = unmarshalData(raw, &v)
		d = v
	case KindImageSource:
		var v ImageSourceData
		err = unmarshalData(raw, &v)
		d = v
	case KindVideoSource:
		var v VideoSourceData
		err = unmarshalData(raw, &v)
		d = v
	case KindCrop:
		v := CropData{X: 0, Y: 0, Width: 100, Height: 100}
		err = unmarshalData(raw, &v)
		d = v
	case KindExtractFrame:
		v := ExtractFrameData{Timestamp: "0"}
		err = unmarshalData(raw, &v)
		if v.Timestamp == "" {
			v.Timestamp = "0"
		}
		d = v
	case KindInference:
		var v InferenceData
		err = unmarshalData(raw, &v)
		d = v
	default:
		return nil, flowerr.New(flowerr.KindValidation, op, fmt.Errorf("%w: %q", ErrUnknownKind, kind))
	}
	if err != nil {
		return nil, flowerr.Validationf(op, "%w", err)
	}

	if err := dataValidate.Struct(d); err != nil {
		return nil, flowerr.Validationf(op, "%w", err)
	}
	return d, nil
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Percent is a number in percent. The editor sends it either as a JSON number
// or as a numeric string.
type Percent float64

// UnmarshalJSON accepts 12.5 and "12.5".
func (p *Percent) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*p = Percent(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("percent must be a number: %s", b)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("percent must be a number: %q", s)
	}
	*p = Percent(f)
	return nil
}

// Fraction returns p as a fraction of one.
func (p Percent) Fraction() float64 {
	return float64(p) / 100
}

// Timestamp is the raw frame selector: "NN%" or a number of seconds. It is
// parsed when the node runs so that the error is recorded against the node.
type Timestamp string

// UnmarshalJSON accepts "50%", "12.5" and 12.5.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Timestamp(strings.TrimSpace(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("timestamp must be a string or number: %s", b)
	}
	*t = Timestamp(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}
