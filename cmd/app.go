package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/tieubaoca/docqa-be/config"
	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/repository"
	"github.com/tieubaoca/docqa-be/service"
	"github.com/tieubaoca/docqa-be/types"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// app bundles the wired services shared by the serve, upload and
// reconcile commands.
type app struct {
	cfg             *config.Config
	mongoClient     *mongo.Client
	index           *database.FlatIndex
	documentService service.DocumentService
	queryService    service.QueryService
	userService     service.UserService
	mediaService    service.MediaService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	client, err := database.ConnectMongo(cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	documentStore := repository.NewDocumentRepo(db.Collection("documents"))
	chunkStore := repository.NewChunkRepo(db.Collection("chunks"))
	mediaStore := repository.NewMediaRepo(db.Collection("media"))
	queryStore := repository.NewQueryRepo(db.Collection("queries"))
	userStore := repository.NewUserRepo(db.Collection("users"))

	index, err := database.OpenFlatIndex(cfg.IndexPath, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	embedding := service.NewOpenAIEmbeddingService(cfg.AIEndpoint, cfg.OpenAIAPIKey, service.EmbeddingServiceConfig{
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})

	var ai service.AIService
	switch cfg.AIBackend {
	case "gemini":
		ai, err = service.NewGeminiService(ctx, cfg.GeminiAPIKeys, cfg.Model)
		if err != nil {
			return nil, err
		}
	default:
		ai = service.NewOpenAIService(cfg.AIEndpoint, cfg.OpenAIAPIKey, cfg.Model)
	}

	chunker, err := service.NewChunkService(types.DocumentServiceConfig{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}
	authorizer := service.NewOwnerAuthorizer(documentStore)
	var captioner service.ImageCaptioner
	if c, ok := ai.(service.ImageCaptioner); ok {
		captioner = c
	}
	mediaService := service.NewMediaService(mediaStore, cfg.MaxMediaBytes, captioner)
	documentService := service.NewDocumentService(
		documentStore,
		chunkStore,
		mediaService,
		service.NewPDFService(),
		chunker,
		embedding,
		index,
		authorizer,
		cfg.UploadDir,
		cfg.IndexPath,
		cfg.MaxFileSize,
	)
	var openAI *service.OpenAIService
	if o, ok := ai.(*service.OpenAIService); ok {
		openAI = o
	}

	queryService := service.NewQueryService(
		documentStore,
		chunkStore,
		queryStore,
		index,
		embedding,
		mediaService,
		ai,
		authorizer,
		service.QueryServiceConfig{
			TopKDefault:     cfg.Query.TopKDefault,
			MaxContextChars: cfg.Query.MaxContextChars,
		},
	)

	if openAI != nil {
		registerSearchTool(openAI, queryService)
	}

	return &app{
		cfg:             cfg,
		mongoClient:     client,
		index:           index,
		documentService: documentService,
		queryService:    queryService,
		userService:     service.NewUserService(userStore),
		mediaService:    mediaService,
	}, nil
}

func (a *app) close(ctx context.Context) {
	a.mongoClient.Disconnect(ctx)
}

// registerSearchTool lets the model pull additional evidence during
// generation, scoped to the user carried on the call context.
func registerSearchTool(ai *service.OpenAIService, queryService service.QueryService) {
	params := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"query": {
				Type:        jsonschema.String,
				Description: "Search query over the user's indexed documents",
			},
		},
		Required: []string{"query"},
	}
	ai.RegisterFunctionCall("search_documents", "Search the user's documents for relevant passages", params,
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			user := service.UserFrom(ctx)
			if user == nil {
				return "", fmt.Errorf("no acting user on this call")
			}
			query, _ := args["query"].(string)
			sources, err := queryService.Search(ctx, user, types.SearchRequest{Query: query})
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(sources)
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}
