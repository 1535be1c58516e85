package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"everestmart-backend/handlers"
	"everestmart-backend/internal/auth"
	"everestmart-backend/internal/consul"
	"everestmart-backend/internal/notify"
	"everestmart-backend/internal/orders"
	"everestmart-backend/internal/products"
	"everestmart-backend/internal/queue"
	"everestmart-backend/internal/stores/kafka"
	"everestmart-backend/internal/stores/postgres"
	"everestmart-backend/internal/users"
	"everestmart-backend/pkg/logkey"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment")
	}

	if err := startApp(); err != nil {
		slog.Error("service stopped", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func startApp() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.OpenDB()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	keys, err := auth.NewKeys(secret)
	if err != nil {
		return fmt.Errorf("initializing auth keys: %w", err)
	}

	uConf, err := users.NewConf(db)
	if err != nil {
		return fmt.Errorf("initializing users store: %w", err)
	}
	pConf, err := products.NewConf(db)
	if err != nil {
		return fmt.Errorf("initializing products store: %w", err)
	}
	oStore, err := orders.NewConf(db)
	if err != nil {
		return fmt.Errorf("initializing orders store: %w", err)
	}

	mailer := notify.NewMailerFromEnv()
	var smsSender notify.SMSSender = notify.LogSMSSender{}
	hub := notify.NewHub()

	// Queue backend: kafka when a broker is configured, in-memory
	// otherwise. Both share the same task contract.
	var kafkaProducer *kafka.Conf
	var kafkaQueue *queue.Kafka
	var orderQ, emailQ, smsQ, invQ queue.Queue

	if os.Getenv("QUEUE_BACKEND") == "kafka" {
		brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
		producer, err := kafka.NewConf(brokers)
		if err != nil {
			return fmt.Errorf("connecting kafka producer: %w", err)
		}
		defer producer.Close()

		consumer, err := kafka.NewConsumerConf(brokers, kafka.ConsumerGroupAutomation, kafka.TopicAutomationTasks)
		if err != nil {
			return fmt.Errorf("connecting kafka consumer: %w", err)
		}
		defer consumer.Close()

		kq, err := queue.NewKafka(producer, consumer, kafka.TopicAutomationTasks)
		if err != nil {
			return fmt.Errorf("initializing kafka queue: %w", err)
		}
		kafkaProducer = producer
		kafkaQueue = kq
		orderQ, emailQ, smsQ, invQ = kq, kq, kq, kq
	} else {
		orderQ = queue.NewMemory("orders")
		emailQ = queue.NewMemory("email")
		smsQ = queue.NewMemory("sms")
		invQ = queue.NewMemory("inventory")
	}

	automation, err := queue.NewAutomation(orderQ, emailQ, smsQ, invQ)
	if err != nil {
		return fmt.Errorf("initializing automation: %w", err)
	}

	otpTTL := time.Duration(envInt("OTP_TTL_MINUTES", 45)) * time.Minute
	svc, err := orders.NewService(oStore, automation, hub, otpTTL)
	if err != nil {
		return fmt.Errorf("initializing order service: %w", err)
	}

	registerAutomationProcessors(automation, oStore, uConf, &pConf, mailer, smsSender, kafkaProducer)

	if kafkaQueue != nil {
		go func() {
			if err := kafkaQueue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("kafka queue stopped", slog.String(logkey.ERROR, err.Error()))
			}
		}()
	}

	port := envInt("APP_PORT", 8080)

	// Consul registration is optional, local runs skip it.
	if os.Getenv("CONSUL_REGISTER") == "true" {
		consulClient, err := consul.NewClient(os.Getenv("CONSUL_HTTP_ADDR"))
		if err != nil {
			return fmt.Errorf("connecting to consul: %w", err)
		}
		host := envOr("SERVICE_HOST", "localhost")
		if err := consul.RegisterService(consulClient, envOr("SERVICE_NAME", "orders"), host, port); err != nil {
			return fmt.Errorf("registering with consul: %w", err)
		}
	}

	app := handlers.API("/v1", keys, svc, pConf, uConf, kafkaProducer, hub)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      app,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.Int("Port", port))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

// registerAutomationProcessors attaches the workers behind the queues:
// confirmation and status emails, OTP SMS, low stock alerts and the
// kafka fan-out for downstream services.
func registerAutomationProcessors(automation *queue.Automation, store orders.Store, uConf *users.Conf,
	pConf *products.Conf, mailer *notify.Mailer, smsSender notify.SMSSender, producer *kafka.Conf) {

	automation.RegisterOrderProcessor(queue.TaskNewOrder, func(ctx context.Context, t queue.Task) error {
		var p queue.NewOrderPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling new order payload: %w", err)
		}
		o, err := store.GetByID(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("loading order %s: %w", p.OrderID, err)
		}

		if u, err := uConf.GetByID(ctx, o.UserID); err == nil && u.Email != "" {
			if err := mailer.SendOrderConfirmation(u.Email, o.ID); err != nil {
				notify.LogFailure("order confirmation email", err)
			}
		}

		for _, item := range o.Items {
			stock, err := pConf.GetProductStock(ctx, item.ProductID)
			if err != nil {
				continue
			}
			if stock <= queue.LowStockThreshold {
				if err := automation.OnLowStock(ctx, item.ProductID, stock); err != nil {
					notify.LogFailure("low stock alert", err)
				}
			}
		}

		if producer != nil {
			jsonData, err := json.Marshal(kafka.OrderCreatedEvent{
				OrderId:     o.ID,
				UserId:      o.UserID,
				TotalAmount: o.TotalAmount,
				ItemCount:   len(o.Items),
				CreatedAt:   o.CreatedAt,
			})
			if err != nil {
				return fmt.Errorf("marshaling order created event: %w", err)
			}
			if err := producer.ProduceMessage(kafka.TopicOrderCreated, []byte(o.ID), jsonData); err != nil {
				return fmt.Errorf("producing order created event: %w", err)
			}
		}
		return nil
	})

	automation.RegisterOrderProcessor(queue.TaskOrderUpdate, func(ctx context.Context, t queue.Task) error {
		var p queue.OrderUpdatePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling order update payload: %w", err)
		}
		o, err := store.GetByID(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("loading order %s: %w", p.OrderID, err)
		}
		if u, err := uConf.GetByID(ctx, o.UserID); err == nil && u.Email != "" {
			body := fmt.Sprintf("Your order %s is now %s.", o.ID, p.Status)
			if err := mailer.Send(u.Email, "Order update", body); err != nil {
				notify.LogFailure("order update email", err)
			}
		}
		return nil
	})

	automation.RegisterEmailProcessor(queue.TaskWelcome, func(_ context.Context, t queue.Task) error {
		var p queue.WelcomePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling welcome payload: %w", err)
		}
		body := fmt.Sprintf("Hi %s, welcome aboard! Your groceries are a few taps away.", p.Name)
		return mailer.Send(p.Email, "Welcome to EverestMart", body)
	})

	automation.RegisterEmailProcessor(queue.TaskCustomEmail, func(_ context.Context, t queue.Task) error {
		var p queue.EmailPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling email payload: %w", err)
		}
		return mailer.Send(p.Email, p.Subject, p.Content)
	})

	automation.RegisterSMSProcessor(queue.TaskOTP, func(_ context.Context, t queue.Task) error {
		var p queue.OTPPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling OTP payload: %w", err)
		}
		return smsSender.SendSMS(p.Phone, "Your delivery OTP is "+p.OTP+". Share it only with the rider at your door.")
	})

	automation.RegisterSMSProcessor(queue.TaskCustomSMS, func(_ context.Context, t queue.Task) error {
		var p queue.SMSPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling SMS payload: %w", err)
		}
		return smsSender.SendSMS(p.Phone, p.Message)
	})

	automation.RegisterInventoryProcessor(queue.TaskLowStock, func(_ context.Context, t queue.Task) error {
		var p queue.LowStockPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("unmarshaling low stock payload: %w", err)
		}
		adminEmail := os.Getenv("ADMIN_ALERT_EMAIL")
		if adminEmail == "" {
			slog.Warn("low stock alert with no ADMIN_ALERT_EMAIL configured",
				slog.String("ProductID", p.ProductID), slog.Int("Stock", p.CurrentStock))
			return nil
		}
		body := fmt.Sprintf("Product %s is down to %d units. Time to restock.", p.ProductID, p.CurrentStock)
		return mailer.Send(adminEmail, "Low stock alert", body)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
