package router

import (
	handlers "github.com/antinvestor/mpesa-api/service/handler"
	"github.com/gorilla/mux"
)

func NewRouter(js *handlers.JobServer) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	// Health check endpoint
	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	// Payment initiation and job tracking
	router.HandleFunc("/payments/stk", js.InitiateStkHandler).Methods("POST")
	router.HandleFunc("/jobs/{jobID}", js.GetJobStatus).Methods("GET")

	// Transaction state
	router.HandleFunc("/transactions/{transactionID}", js.GetTransaction).Methods("GET")
	router.HandleFunc("/transactions/{transactionID}/query", js.QueryTransactionStatus).Methods("POST")
	router.HandleFunc("/transactions/{transactionID}/reverse", js.ReverseTransactionHandler).Methods("POST")

	// Gateway callback endpoints
	router.HandleFunc("/payments/mpesa/callback", js.HandleStkCallback).Methods("POST")
	router.HandleFunc("/payments/mpesa/result", js.HandleResultCallback).Methods("POST")
	router.HandleFunc("/payments/mpesa/timeout", js.HandleTimeoutCallback).Methods("POST")

	// C2B URL registration
	router.HandleFunc("/c2b/register", js.RegisterUrlHandler).Methods("POST")

	// Short code account balance
	router.HandleFunc("/account-balance", js.AccountBalanceHandler).Methods("GET")

	return router
}
