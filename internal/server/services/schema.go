package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/cryptox"
	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/openapi"
	"github.com/flowguard/flowguard/internal/server/config"
	"github.com/flowguard/flowguard/internal/server/gemini"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/repositories/repomanager"
)

// schemaAnalyzer is what SchemaService needs from the analysis agent.
type schemaAnalyzer interface {
	Analyze(ctx context.Context, rawSchema map[string]any, baseURL string) *models.AgentAnalysis
}

// newSchemaAnalyzer is a seam for testing without a live Gemini client.
var newSchemaAnalyzer = func(ctx context.Context, apiKey, model string, logger logging.Logger) (schemaAnalyzer, error) {
	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return gemini.NewSchemaAgent(client, model, logger), nil
}

// Archiver stores the raw uploaded document in object storage and hands
// out short-lived download links. Archival is best effort and may be
// absent entirely.
type Archiver interface {
	Store(ctx context.Context, objectKey string, body []byte) error
	PresignedGetURL(ctx context.Context, objectKey string) (string, error)
}

// SchemaRejectedError reports why an upload did not survive AI analysis or
// the deterministic validation layer.
type SchemaRejectedError struct {
	Errors []string
}

func (e *SchemaRejectedError) Error() string {
	return "schema validation failed: " + strings.Join(e.Errors, "; ")
}

// UploadResult is the outcome of an upload: the stored schema and whether it
// was served from the dedup cache without an AI call.
type UploadResult struct {
	Schema *models.APISchema
	Cached bool
}

// SchemaService owns the upload pipeline (parse, dedup, AI analysis,
// validation, save) and read access to stored schemas.
type SchemaService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	validate    func(*models.AgentAnalysis) []string
	flashModel  string
	sealKey     []byte
	archiver    Archiver
	logger      logging.Logger
}

// NewSchemaService constructs a SchemaService. archiver may be nil to
// disable raw document archival.
func NewSchemaService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	validate func(*models.AgentAnalysis) []string, archiver Archiver, logger logging.Logger) *SchemaService {
	return &SchemaService{
		db:          db,
		repomanager: m,
		validate:    validate,
		flashModel:  cfg.GeminiFlashModel,
		sealKey:     cryptox.DeriveSealKey(cfg.APIKeySealSecret),
		archiver:    archiver,
		logger:      logger,
	}
}

// Upload runs the full pipeline for one uploaded document. A document whose
// canonical hash is already stored for this user is returned as cached with
// no AI call. Rejections surface as *SchemaRejectedError.
func (s *SchemaService) Upload(ctx context.Context, userID int64, filename string, content []byte, baseURL string) (*UploadResult, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", common.ErrorValidation)
	}
	if !openapi.ValidBaseURL(baseURL) {
		return nil, fmt.Errorf("%w: base URL must start with http:// or https://", common.ErrorValidation)
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: schema file is required", common.ErrorValidation)
	}
	if !openapi.AllowedExtension(filename) {
		return nil, fmt.Errorf("%w: %s", common.ErrorValidation, openapi.ErrUnsupportedFormat)
	}

	doc, err := openapi.Parse(content, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schema file: %s", common.ErrorValidation, err)
	}

	hash, err := openapi.Hash(doc, baseURL)
	if err != nil {
		return nil, fmt.Errorf("error hashing schema: %w", err)
	}

	schemaRepo := s.repomanager.Schemas(s.db)

	existing, err := schemaRepo.GetByHash(ctx, userID, hash)
	if err == nil {
		s.logger.Info(ctx, "schema served from cache, skipping AI processing", "schema_id", existing.ID)
		return &UploadResult{Schema: existing, Cached: true}, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error checking schema cache: %w", err)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	apiKey, err := openGeminiKey(user, s.sealKey)
	if err != nil {
		return nil, err
	}

	analyzer, err := newSchemaAnalyzer(ctx, apiKey, s.flashModel, s.logger)
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}

	analysis := analyzer.Analyze(ctx, doc, baseURL)
	if errs := s.validate(analysis); len(errs) > 0 {
		return nil, &SchemaRejectedError{Errors: errs}
	}

	schema := &models.APISchema{
		UserID:           userID,
		OriginalFilename: filename,
		BaseURL:          baseURL,
		SchemaHash:       hash,
		NormalizedSchema: analysis.NormalizedSchema,
		TestCases:        analysis.TestCases,
	}

	if s.archiver != nil {
		objectKey := fmt.Sprintf("%d/%s/%s", userID, hash, filename)
		if err := s.archiver.Store(ctx, objectKey, content); err != nil {
			s.logger.Warn(ctx, "raw schema archival failed", "error", err.Error())
		} else {
			schema.ArchiveKey = objectKey
		}
	}

	created, err := schemaRepo.Create(ctx, schema)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			// Lost a race with a concurrent upload of the same document.
			existing, getErr := schemaRepo.GetByHash(ctx, userID, hash)
			if getErr == nil {
				return &UploadResult{Schema: existing, Cached: true}, nil
			}
		}
		return nil, fmt.Errorf("error saving schema: %w", err)
	}

	return &UploadResult{Schema: created, Cached: false}, nil
}

// List returns the caller's schemas, newest first.
func (s *SchemaService) List(ctx context.Context, userID int64) ([]*models.APISchema, error) {
	list, err := s.repomanager.Schemas(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing schemas: %w", err)
	}
	return list, nil
}

// Details loads one schema owned by the caller.
func (s *SchemaService) Details(ctx context.Context, userID, schemaID int64) (*models.APISchema, error) {
	schema, err := s.repomanager.Schemas(s.db).GetByID(ctx, userID, schemaID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading schema: %w", err)
	}
	return schema, nil
}

// DownloadURL returns a presigned link to the archived raw document, or ""
// when the schema was never archived or archival is disabled. Presigning
// errors are logged, not surfaced; the schema details stay readable.
func (s *SchemaService) DownloadURL(ctx context.Context, schema *models.APISchema) string {
	if s.archiver == nil || schema.ArchiveKey == "" {
		return ""
	}
	url, err := s.archiver.PresignedGetURL(ctx, schema.ArchiveKey)
	if err != nil {
		s.logger.Warn(ctx, "presigning archived schema failed", "error", err.Error())
		return ""
	}
	return url
}
