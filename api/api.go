/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nullroute/nullroute"
	"github.com/nullroute/nullroute/api/middleware"
	"github.com/nullroute/nullroute/config"
	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/nullroute/nullroute/internal/governor"
	"github.com/nullroute/nullroute/model"
)

// Service is the transfer service exposed over HTTP.
type Service interface {
	SendTransfer(ctx context.Context, req nullroute.TransferRequest) (*model.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (*model.Transfer, error)
	GetTransferStatus(ctx context.Context, transferID string) (*exchange.StatusRecord, error)
	ConfirmDeposit(ctx context.Context, transferID, signature string) (*model.Transfer, error)
	EstimateFees(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*exchange.FeeEstimate, error)
	GetWalletBalance(ctx context.Context, address string) (*model.WalletBalance, error)
	GetWalletTransfers(ctx context.Context, address string, limit, offset int) ([]model.Transfer, error)
	QueueStatus() governor.QueueStatus
}

type Api struct {
	service Service
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/transfers", a.SendTransfer)
	router.GET("/transfers/:id", a.GetTransfer)
	router.GET("/transfers/:id/status", a.GetTransferStatus)
	router.POST("/transfers/:id/deposit", a.ConfirmDeposit)

	router.POST("/fees/estimate", a.EstimateFees)

	router.GET("/wallets/:address/balance", a.GetWalletBalance)
	router.GET("/wallets/:address/transfers", a.GetWalletTransfers)

	router.GET("/queue/status", a.QueueStatus)
	return a.router
}

func NewAPI(s Service) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{service: s, router: r}
}

// QueueStatus reports the length of the outbound request line.
func (a Api) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.QueueStatus())
}

func respondWithError(c *gin.Context, err error) {
	var message string
	if apiErr, ok := asAPIError(err); ok {
		message = apiErr.Message
	} else {
		message = err.Error()
	}
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{
		"error": message,
		"code":  apierror.CodeOf(err),
	})
}
