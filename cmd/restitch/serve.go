package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/db"
	"github.com/atvirokodosprendimai/restitch/internal/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

func runServe(ctx context.Context, cmd *cli.Command) error {
	log.Println("Starting restitch status server...")

	// 1. Initialize Database
	dbPath := cmd.Value("db-path").(string)
	gormDB, err := db.NewDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	store := db.NewStore(gormDB)

	// 2. Start Embedded NATS Server
	natsAddr := cmd.Value("nats-addr").(string)
	natsHost, natsPort, err := net.SplitHostPort(natsAddr)
	if err != nil {
		return fmt.Errorf("invalid nats-addr format: %w", err)
	}
	natsPortInt, _ := strconv.Atoi(natsPort)
	ns, err := server.NewServer(&server.Options{Host: natsHost, Port: natsPortInt})
	if err != nil {
		return fmt.Errorf("could not start embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		return fmt.Errorf("embedded NATS server did not become ready")
	}
	log.Printf("Embedded NATS server started on %s", natsAddr)

	// 3. Connect to our own embedded NATS
	nc, err := messaging.Connect(ns.ClientURL())
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	// 4. Record deploy status events from remote runs
	_, err = nc.Subscribe(messaging.SubjectDeployStatus, statusHandler(store))
	if err != nil {
		return fmt.Errorf("failed to subscribe to deploy status: %w", err)
	}
	log.Println("Subscribed to deploy status events.")

	// 5. Start Chi HTTP Server
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "pong"})
	})
	r.Get("/deployments", deploymentListHandler(store))
	r.Get("/deployments/{attemptID}", deploymentGetHandler(store))

	httpAddr := cmd.Value("http-addr").(string)
	log.Printf("HTTP server listening on %s", httpAddr)
	return http.ListenAndServe(httpAddr, r)
}

func deploymentListHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		records, err := store.RecentDeployments(limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list deployments: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func deploymentGetHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := store.FindDeployment(chi.URLParam(r, "attemptID"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				http.Error(w, "deployment not found", http.StatusNotFound)
				return
			}
			http.Error(w, fmt.Sprintf("Failed to load deployment: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	}
}

func statusHandler(store *db.Store) nats.MsgHandler {
	return func(m *nats.Msg) {
		var status messaging.DeployStatus
		if err := json.Unmarshal(m.Data, &status); err != nil {
			log.Printf("[ERROR] Unmarshalling deploy status: %v", err)
			return
		}

		log.Printf("[INFO] Deploy status: service=%s image=%s outcome=%s", status.ServiceName, status.Image, status.Outcome)

		event := db.StatusEvent{
			AttemptID:   status.AttemptID,
			ServiceName: status.ServiceName,
			Image:       status.Image,
			Outcome:     status.Outcome,
			Reason:      status.Reason,
			Detail:      status.Detail,
			ReportedAt:  status.Timestamp,
		}
		if err := store.SaveStatusEvent(&event); err != nil {
			log.Printf("[ERROR] Saving status event: %v", err)
		}
	}
}
