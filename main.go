package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/antinvestor/mpesa-api/config"
	"github.com/antinvestor/mpesa-api/service/business"
	"github.com/antinvestor/mpesa-api/service/coreapi"
	"github.com/antinvestor/mpesa-api/service/events"
	"github.com/antinvestor/mpesa-api/service/events/events_callback"
	"github.com/antinvestor/mpesa-api/service/events/events_stk"
	handlers "github.com/antinvestor/mpesa-api/service/handler"
	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/antinvestor/mpesa-api/service/repository"
	"github.com/antinvestor/mpesa-api/service/router"
	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/pitabwire/frame"
)

func main() {
	serviceName := "service_mpesa_api"

	mpesaConfig, err := frame.ConfigFromEnv[config.MpesaConfig]()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	ctx, service := frame.NewService(serviceName, frame.WithConfig(&mpesaConfig))
	defer service.Stop(ctx)

	logger := service.Log(ctx).WithField("type", "main")

	if err = mpesaConfig.Validate(); err != nil {
		logger.WithError(err).Fatal("gateway configuration is incomplete")
	}

	clientApi := coreapi.New(mpesaConfig.APIBaseURL(), mpesaConfig.ConsumerKey, mpesaConfig.ConsumerSecret)
	builder := coreapi.NewRequestBuilder(
		mpesaConfig.ShortCode,
		mpesaConfig.PassKey,
		mpesaConfig.InitiatorName,
		mpesaConfig.SecurityCredential,
		mpesaConfig.CallbackURL(),
		mpesaConfig.ResultURL(),
		mpesaConfig.QueueTimeoutURL(),
	)

	transactionRepo := repository.NewTransactionRepository(ctx, service)
	reconciler, err := business.NewReconciler(ctx, service, transactionRepo, clientApi, builder)
	if err != nil {
		logger.WithError(err).Fatal("could not set up reconciler")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", mpesaConfig.RedisHost, mpesaConfig.RedisPort),
	})
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("error closing redis client")
		}
	}()

	js := &handlers.JobServer{
		Service:         service,
		RedisClient:     redisClient,
		Reconciler:      reconciler,
		TransactionRepo: transactionRepo,
		Client:          clientApi,
		Builder:         builder,
	}
	httpRouter := router.NewRouter(js)

	initiateStk := events_stk.NewInitiateStk(service, reconciler, transactionRepo, redisClient)
	stkCallback := &events_callback.StkCallback{Service: service, Reconciler: reconciler}
	resultCallback := &events_callback.ResultCallback{Service: service, Reconciler: reconciler}

	natsURL := mpesaConfig.NatsURL
	if !strings.HasPrefix(natsURL, "nats://") && !strings.HasPrefix(natsURL, "mem://") {
		logger.Warn("NATS_URL missing 'nats://' prefix; assuming host:port format")
		natsURL = "nats://" + natsURL
	}

	if strings.HasPrefix(natsURL, "nats://") {
		nc, natsErr := nats.Connect(natsURL)
		if natsErr != nil {
			logger.WithError(natsErr).WithField("natsURL", natsURL).
				Warn("could not reach NATS, falling back to in-memory messaging")
			natsURL = "mem://"
		} else {
			nc.Close()
			logger.WithField("natsURL", natsURL).Info("Using NATS for pub/sub messaging")
		}
	}

	initiateTopic := initiateStk.Name()
	callbackTopic := stkCallback.Name()
	resultTopic := resultCallback.Name()

	serviceOptions := []frame.Option{
		frame.WithDatastore(),
		frame.WithHTTPHandler(httpRouter),
		frame.WithRegisterEvents(
			&events.TransactionStatusSave{Service: service},
			initiateStk,
			stkCallback,
			resultCallback,
		),
		frame.WithRegisterPublisher(initiateTopic, natsURL+initiateTopic),
		frame.WithRegisterPublisher(callbackTopic, natsURL+callbackTopic),
		frame.WithRegisterPublisher(resultTopic, natsURL+resultTopic),
		frame.WithRegisterSubscriber(initiateTopic, natsURL+initiateTopic, initiateStk),
		frame.WithRegisterSubscriber(callbackTopic, natsURL+callbackTopic, stkCallback),
		frame.WithRegisterSubscriber(resultTopic, natsURL+resultTopic, resultCallback),
	}

	service.Init(ctx, serviceOptions...)

	if mpesaConfig.DoDatabaseMigrate() {
		err = service.MigrateDatastore(ctx, mpesaConfig.GetDatabaseMigrationPath(),
			&models.Transaction{}, &models.TransactionStatus{})
		if err != nil {
			logger.WithError(err).Fatal("could not migrate successfully")
		}
		return
	}

	db := service.DB(ctx, false)
	if db == nil {
		logger.Fatal("database connection is nil - check DATABASE_URL and database availability")
		return
	}
	if err = db.AutoMigrate(&models.Transaction{}, &models.TransactionStatus{}); err != nil {
		logger.WithError(err).Fatal("failed to auto-migrate database tables - cannot continue")
		return
	}

	logger.Info("M-Pesa gateway service started successfully on port 8080")
	if runErr := service.Run(ctx, ":8080"); runErr != nil {
		logger.WithError(runErr).Fatal("failed to run M-Pesa gateway service")
	}
}
