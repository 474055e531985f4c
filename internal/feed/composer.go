package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/blob"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// Draft is a post before upload. Text is capped at 1000 bytes.
type Draft struct {
	Text  string `validate:"required_without=Media,max=1000"`
	Media []byte `validate:"required_without=Text"`
}

// Publisher creates posts as the bound identity.
type Publisher interface {
	CreatePost(ctx context.Context, contentRef, mediaRef string) (models.Post, error)
}

// Composer uploads a draft's payloads and creates the post that refers to
// them. Nothing reaches the ledger unless the draft validates.
type Composer struct {
	blobs    blob.Store
	pub      Publisher
	validate *validator.Validate
}

func NewComposer(blobs blob.Store, pub Publisher) *Composer {
	return &Composer{blobs: blobs, pub: pub, validate: validator.New()}
}

func (c *Composer) Submit(ctx context.Context, d Draft) (models.Post, error) {
	if len(d.Media) == 0 {
		d.Media = nil
	}
	if err := c.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return models.Post{}, apperr.New(apperr.KindValidation, "Submit", describe(verrs[0]))
		}
		return models.Post{}, apperr.Wrap(apperr.KindValidation, "Submit", err)
	}

	contentRef, err := c.blobs.Put(ctx, []byte(d.Text))
	if err != nil {
		return models.Post{}, transient("Submit", fmt.Errorf("upload content: %w", err))
	}
	mediaRef, err := c.blobs.Put(ctx, d.Media)
	if err != nil {
		return models.Post{}, transient("Submit", fmt.Errorf("upload media: %w", err))
	}
	post, err := c.pub.CreatePost(ctx, contentRef, mediaRef)
	if err != nil {
		return models.Post{}, transient("Submit", err)
	}
	return post, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required_without":
		return "content or media required"
	case "max":
		return fmt.Sprintf("%s longer than %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
