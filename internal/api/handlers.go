package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/safar/agri-supply-tracker/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func successPopup(title, message string) models.Popup {
	return models.Popup{Type: models.PopupSuccess, Title: title, Message: message}
}

func parseLedgerID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func parseStatus(v *int64) (models.Status, bool) {
	if v == nil {
		return models.StatusHarvested, true
	}
	return models.ParseStatus(*v)
}

func (s *Server) handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"message":         "Agricultural Supply Chain Backend Server is running!",
			"database_tables": database.MirrorTables,
			"timestamp":       time.Now().UTC(),
		})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			RespondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"status":    "ERROR",
				"service":   serviceName,
				"database":  "Connection Failed",
				"error":     "database unreachable",
				"timestamp": time.Now().UTC(),
			})
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "OK",
			"service":   serviceName,
			"database":  "Connected",
			"timestamp": time.Now().UTC(),
		})
	}
}

func (s *Server) handleTestDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.store.TableStatus(r.Context())

		tables := make(map[string]string, len(status))
		reachable := 0
		for table, ok := range status {
			if ok {
				tables[table] = "Connected"
				reachable++
			} else {
				tables[table] = "Error"
			}
		}

		code := http.StatusOK
		message := "Database connection test completed"
		if reachable == 0 {
			code = http.StatusInternalServerError
			message = "Database connection test failed"
		}

		RespondJSON(w, code, map[string]interface{}{
			"success":         reachable > 0,
			"message":         message,
			"database_status": status,
			"tables":          tables,
		})
	}
}

var mirrorSchema = map[string]map[string]string{
	"products": {
		"id":                       "bigserial",
		"blockchain_product_id":    "bigint unique",
		"product_name":             "varchar",
		"farmer_name":              "varchar",
		"farm_location":            "varchar",
		"harvest_date":             "bigint",
		"blockchain_owner_address": "varchar",
		"current_status":           "smallint",
		"price_wei":                "numeric(78,0)",
		"is_for_sale":              "boolean",
		"created_at":               "timestamptz",
		"updated_at":               "timestamptz",
	},
	"product_sales": {
		"id":                    "bigserial",
		"product_id":            "bigint",
		"blockchain_product_id": "bigint",
		"seller_address":        "varchar",
		"buyer_address":         "varchar null",
		"sale_price_wei":        "numeric(78,0)",
		"sale_status":           "varchar (listed | sold)",
		"transaction_hash":      "varchar",
		"created_at":            "timestamptz",
		"updated_at":            "timestamptz",
	},
	"product_status_history": {
		"id":                    "bigserial",
		"product_id":            "bigint",
		"blockchain_product_id": "bigint",
		"old_status":            "smallint",
		"new_status":            "smallint",
		"changed_by":            "varchar",
		"transaction_hash":      "varchar",
		"created_at":            "timestamptz",
	},
	"blockchain_events": {
		"id":                    "bigserial",
		"event_type":            "varchar",
		"product_id":            "bigint",
		"blockchain_product_id": "bigint",
		"event_data":            "jsonb",
		"transaction_hash":      "varchar",
		"block_number":          "bigint",
		"created_at":            "timestamptz",
	},
}

func (s *Server) handleSchema() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"schema":  mirrorSchema,
		})
	}
}

func (s *Server) handleCreateProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BlockchainProductID    *int64          `json:"blockchain_product_id"`
			ProductName            string          `json:"product_name"`
			FarmerName             string          `json:"farmer_name"`
			FarmLocation           string          `json:"farm_location"`
			HarvestDate            int64           `json:"harvest_date"`
			BlockchainOwnerAddress string          `json:"blockchain_owner_address"`
			CurrentStatus          *int64          `json:"current_status"`
			PriceWei               decimal.Decimal `json:"price_wei"`
			IsForSale              bool            `json:"is_for_sale"`
		}
		if err := DecodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "Invalid Request", err.Error())
			return
		}

		if strings.TrimSpace(req.ProductName) == "" {
			respondError(w, http.StatusBadRequest, "Missing required field: product_name",
				"Invalid Request", "Product name is required.")
			return
		}
		status, ok := parseStatus(req.CurrentStatus)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid current_status", "Invalid Request", "Unknown product status.")
			return
		}
		if req.PriceWei.IsNegative() {
			respondError(w, http.StatusBadRequest, "Invalid price_wei", "Invalid Request", "Price cannot be negative.")
			return
		}

		in := models.MirrorProduct{
			ProductName:            req.ProductName,
			FarmerName:             req.FarmerName,
			FarmLocation:           req.FarmLocation,
			HarvestDate:            req.HarvestDate,
			BlockchainOwnerAddress: req.BlockchainOwnerAddress,
			CurrentStatus:          status,
			PriceWei:               req.PriceWei,
			IsForSale:              req.IsForSale,
		}
		if req.BlockchainProductID != nil {
			if *req.BlockchainProductID <= 0 {
				respondError(w, http.StatusBadRequest, "Invalid blockchain_product_id", "Invalid Request", "Ledger ids start at 1.")
				return
			}
			in.BlockchainProductID = *req.BlockchainProductID
		}

		product, err := s.store.RecordProduct(r.Context(), in)
		if err != nil {
			s.respondStoreError(w, "create_product", err, "Failed to store product",
				"Storage Failed", "Failed to store product in database.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"message":   "Product stored successfully in database!",
			"data":      product,
			"productId": product.BlockchainProductID,
			"popup": successPopup("Product Stored",
				"Product information has been successfully saved in the database."),
		})
	}
}

func (s *Server) handleListProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := s.store.ListProducts(r.Context())
		if err != nil {
			s.respondStoreError(w, "list_products", err, "Failed to fetch products",
				"Load Failed", "Could not load products from the database.")
			return
		}
		if products == nil {
			products = []models.MirrorProduct{}
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    products,
			"count":   len(products),
		})
	}
}

func (s *Server) handleGetProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseLedgerID(r)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid product ID", "Invalid Request", "Product id must be a positive integer.")
			return
		}

		product, err := s.store.GetProduct(r.Context(), id)
		if err != nil {
			s.respondStoreError(w, "get_product", err, "Product not found",
				"Not Found", "No product with that id in the database.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    product,
		})
	}
}

func (s *Server) handleUpdateProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseLedgerID(r)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid product ID", "Invalid Request", "Product id must be a positive integer.")
			return
		}

		var patch models.ProductPatch
		if err := DecodeBody(w, r, &patch); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "Invalid Request", err.Error())
			return
		}
		if patch.CurrentStatus != nil && !patch.CurrentStatus.Valid() {
			respondError(w, http.StatusBadRequest, "Invalid current_status", "Invalid Request", "Unknown product status.")
			return
		}

		product, err := s.store.UpdateProduct(r.Context(), id, patch)
		if err != nil {
			s.respondStoreError(w, "update_product", err, "Failed to update product",
				"Update Failed", "Failed to update product in database.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Product updated successfully in database!",
			"data":    product,
			"popup": successPopup("Product Updated",
				"Product information has been successfully updated in the database."),
		})
	}
}

func (s *Server) handleProductHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseLedgerID(r)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid product ID", "Invalid Request", "Product id must be a positive integer.")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 100 {
			limit = 20
		}

		page, err := s.store.ListStatusHistory(r.Context(), id, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			if errors.Is(err, store.ErrInvalidCursor) {
				respondError(w, http.StatusBadRequest, "Invalid cursor", "Invalid Request", "The paging cursor is not valid.")
				return
			}
			s.respondStoreError(w, "product_history", err, "Failed to fetch status history",
				"Load Failed", "Could not load the status history.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"data":        page.Items,
			"next_cursor": page.NextCursor,
			"has_more":    page.HasMore,
		})
	}
}

func (s *Server) handleCreateSale() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID           int64           `json:"product_id"`
			BlockchainProductID int64           `json:"blockchain_product_id"`
			SellerAddress       string          `json:"seller_address"`
			BuyerAddress        *string         `json:"buyer_address"`
			SalePriceWei        decimal.Decimal `json:"sale_price_wei"`
			SaleStatus          string          `json:"sale_status"`
			TransactionHash     string          `json:"transaction_hash"`
		}
		if err := DecodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "Invalid Request", err.Error())
			return
		}

		if req.ProductID <= 0 || strings.TrimSpace(req.SellerAddress) == "" {
			respondError(w, http.StatusBadRequest, "Missing required fields: product_id and seller_address",
				"Invalid Request", "Product id and seller address are required.")
			return
		}
		if req.SaleStatus == "" {
			req.SaleStatus = models.SaleStatusListed
		}
		if req.SaleStatus != models.SaleStatusListed && req.SaleStatus != models.SaleStatusSold {
			respondError(w, http.StatusBadRequest, "Invalid sale_status", "Invalid Request", "Sale status must be listed or sold.")
			return
		}
		if req.BlockchainProductID == 0 {
			req.BlockchainProductID = req.ProductID
		}

		sale, err := s.store.RecordSale(r.Context(), models.SaleRecord{
			ProductID:           req.ProductID,
			BlockchainProductID: req.BlockchainProductID,
			SellerAddress:       req.SellerAddress,
			BuyerAddress:        req.BuyerAddress,
			SalePriceWei:        req.SalePriceWei,
			SaleStatus:          req.SaleStatus,
			TransactionHash:     req.TransactionHash,
		})
		if err != nil {
			s.respondStoreError(w, "create_sale", err, "Failed to store product sale",
				"Storage Failed", "Failed to store sale information in database.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Product sale stored successfully in database!",
			"data":    sale,
			"popup": successPopup("Sale Recorded",
				"Product sale has been successfully recorded in the database."),
		})
	}
}

func (s *Server) handleCompleteSale() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID       int64  `json:"product_id"`
			BuyerAddress    string `json:"buyer_address"`
			TransactionHash string `json:"transaction_hash"`
		}
		if err := DecodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "Invalid Request", err.Error())
			return
		}
		if req.ProductID <= 0 || strings.TrimSpace(req.BuyerAddress) == "" {
			respondError(w, http.StatusBadRequest, "Missing required fields: product_id and buyer_address",
				"Invalid Request", "Product id and buyer address are required.")
			return
		}

		sale, err := s.store.CompleteSale(r.Context(), req.ProductID, req.BuyerAddress, req.TransactionHash)
		if err != nil {
			s.respondStoreError(w, "complete_sale", err, "Failed to complete product sale",
				"Update Failed", "Failed to mark the sale as completed.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Product sale completed in database!",
			"data":    sale,
			"popup": successPopup("Sale Completed",
				"The purchase has been recorded in the database."),
		})
	}
}

func (s *Server) handleCreateStatusHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID           int64  `json:"product_id"`
			BlockchainProductID int64  `json:"blockchain_product_id"`
			OldStatus           *int64 `json:"old_status"`
			NewStatus           *int64 `json:"new_status"`
			ChangedBy           string `json:"changed_by"`
			TransactionHash     string `json:"transaction_hash"`
		}
		if err := DecodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "Invalid Request", err.Error())
			return
		}

		// new_status 0 (Harvested) is valid, so presence is checked rather than the value.
		if req.ProductID <= 0 || req.NewStatus == nil {
			respondError(w, http.StatusBadRequest, "Missing required fields: product_id and new_status",
				"Invalid Request", "Product id and new status are required.")
			return
		}
		newStatus, ok := models.ParseStatus(*req.NewStatus)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid new_status", "Invalid Request", "Unknown product status.")
			return
		}
		oldStatus, ok := parseStatus(req.OldStatus)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid old_status", "Invalid Request", "Unknown product status.")
			return
		}
		if req.BlockchainProductID == 0 {
			req.BlockchainProductID = req.ProductID
		}

		rec, err := s.store.RecordStatusChange(r.Context(), models.StatusChangeRecord{
			ProductID:           req.ProductID,
			BlockchainProductID: req.BlockchainProductID,
			OldStatus:           oldStatus,
			NewStatus:           newStatus,
			ChangedBy:           req.ChangedBy,
			TransactionHash:     req.TransactionHash,
		})
		if err != nil {
			s.respondStoreError(w, "create_status_history", err, "Failed to store status history",
				"Storage Failed", "Failed to store status history in database.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Status history stored successfully in database!",
			"data":    rec,
			"popup": successPopup("Status Updated",
				"Product status change has been recorded in the database."),
		})
	}
}

func (s *Server) handleCreateEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EventType           string          `json:"event_type"`
			ProductID           int64           `json:"product_id"`
			BlockchainProductID int64           `json:"blockchain_product_id"`
			EventData           json.RawMessage `json:"event_data"`
			TransactionHash     string          `json:"transaction_hash"`
			BlockNumber         int64           `json:"block_number"`
		}
		if err := DecodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "Invalid Request", err.Error())
			return
		}

		if strings.TrimSpace(req.EventType) == "" || req.ProductID <= 0 {
			respondError(w, http.StatusBadRequest, "Missing required fields: event_type and product_id",
				"Invalid Request", "Event type and product id are required.")
			return
		}
		if req.BlockchainProductID == 0 {
			req.BlockchainProductID = req.ProductID
		}

		ev, err := s.store.RecordEvent(r.Context(), models.BlockchainEvent{
			EventType:           req.EventType,
			ProductID:           req.ProductID,
			BlockchainProductID: req.BlockchainProductID,
			EventData:           req.EventData,
			TransactionHash:     req.TransactionHash,
			BlockNumber:         req.BlockNumber,
		})
		if err != nil {
			s.respondStoreError(w, "create_event", err, "Failed to store blockchain event",
				"Storage Failed", "Failed to store blockchain event in database.")
			return
		}

		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Blockchain event stored successfully in database!",
			"data":    ev,
			"popup": successPopup("Event Stored",
				"Blockchain event has been successfully recorded in the database."),
		})
	}
}
