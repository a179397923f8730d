package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type AskParams struct {
	Query string `query:"query" json:"query" validate:"required,notblank"`
	ELI5  bool   `query:"eli5" json:"eli5"`
}

type DownloadParams struct {
	Path string `query:"path" validate:"required"`
}

func init() {
	err := validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	if err != nil {
		panic(err)
	}
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *AskParams) Validate() map[string]string {
	return structErrors(params)
}

func (params *DownloadParams) Validate() map[string]string {
	return structErrors(params)
}

func structErrors(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"_": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type AskResponse struct {
	Answer          string           `json:"answer"`
	AnswerHTML      string           `json:"answer_html,omitempty"`
	Sources         []Source         `json:"sources"`
	HighlightedPDFs []HighlightedPDF `json:"highlighted_pdfs"`
	Timestamp       time.Time        `json:"timestamp"`
}

type Source struct {
	Text           string  `json:"text"`
	ConfidenceRank int     `json:"confidence_rank"`
	File           string  `json:"file,omitempty"`
	Page           int     `json:"page,omitempty"`
	Score          float64 `json:"score"`
}

type HighlightedPDF struct {
	Name         string   `json:"name"`
	Chunks       []string `json:"chunks"`
	DownloadPath string   `json:"download_path"`
	DownloadURL  string   `json:"download_url"`
}

type UploadResponse struct {
	Status string   `json:"status"`
	Files  []string `json:"files"`
}

type StatusResponse struct {
	Files   []string `json:"files"`
	Chunks  int      `json:"chunks"`
	Backend string   `json:"backend"`
}
