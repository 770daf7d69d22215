package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	quoteAsset = "USDT"

	// Order quantities are formatted to this many decimals. Contract-spec
	// precision handling lives with the exchange, not here.
	quantityDecimals = 3
)

// Client implements ports.ExecutionPort and ports.PriceSource against Binance
// USD-M futures. It keeps an in-memory index of the positions it opened so
// the engine can close by position ID.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: API credentials are required", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global futures.UseTestnet.
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		positions:     make(map[string]*domain.Position),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005, -3041: // Insufficient balance / position not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015: // Qty, price or leverage out of range
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	if _, err := c.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Latest implements ports.PriceSource using the futures mark price.
func (c *Client) Latest(ctx context.Context, symbol string) (float64, error) {
	op := "Latest"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// availableBalance retrieves the wallet balance for the quote asset.
func (c *Client) availableBalance(ctx context.Context) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == quoteAsset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s': %w", bal.WalletBalance, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance", quoteAsset)
	return 0, c.handleError(ctx, err, op)
}

// Open implements ports.ExecutionPort: it sets leverage, sizes the order from
// the committed margin fraction of the wallet balance, and places a market
// order.
func (c *Client) Open(ctx context.Context, req ports.OpenRequest) (*domain.Position, error) {
	op := "Open"

	balance, err := c.availableBalance(ctx)
	if err != nil {
		return nil, err
	}
	price, err := c.Latest(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	leverage := int(req.Leverage)
	if leverage < 1 {
		leverage = 1
	}
	if _, err := c.futuresClient.NewChangeLeverageService().
		Symbol(req.Symbol).
		Leverage(leverage).
		Do(ctx); err != nil {
		return nil, c.handleError(ctx, err, op+" SetLeverage")
	}

	margin := balance * req.SizePct
	quantity := margin * float64(leverage) / price
	qtyStr := strconv.FormatFloat(quantity, 'f', quantityDecimals, 64)

	side := futures.SideTypeBuy
	if req.Side == domain.SideShort {
		side = futures.SideTypeSell
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if fillPrice <= 0 {
		fillPrice = price
	}
	fillQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if fillQty <= 0 {
		fillQty = quantity
	}

	pos := &domain.Position{
		ID:         uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: fillPrice,
		Quantity:   fillQty,
		Leverage:   float64(leverage),
		EntryTime:  time.Now(),
		Status:     domain.StatusOpen,
		Confidence: req.Confidence,
		SourceID:   req.SourceID,
	}

	c.mu.Lock()
	c.positions[pos.ID] = pos
	c.mu.Unlock()

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"side":       string(pos.Side),
		"orderID":    order.OrderID,
		"avgPrice":   fillPrice,
		"quantity":   fillQty,
		"leverage":   leverage,
	})
	return pos, nil
}

// Close implements ports.ExecutionPort with a reduce-only market order in the
// opposite direction. Closing an unknown or already-flat position returns
// ErrPositionNotFound.
func (c *Client) Close(ctx context.Context, positionID string, reason domain.ExitReason) (float64, error) {
	op := "Close"

	c.mu.Lock()
	pos, ok := c.positions[positionID]
	if !ok || !pos.IsOpen() {
		c.mu.Unlock()
		return 0, fmt.Errorf("%s failed: %w: %s", op, ports.ErrPositionNotFound, positionID)
	}
	symbol := pos.Symbol
	quantity := pos.Quantity
	entryPrice := pos.EntryPrice
	posSide := pos.Side
	c.mu.Unlock()

	side := futures.SideTypeSell
	if posSide == domain.SideShort {
		side = futures.SideTypeBuy
	}
	qtyStr := strconv.FormatFloat(quantity, 'f', quantityDecimals, 64)

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if fillPrice <= 0 {
		if latest, perr := c.Latest(ctx, symbol); perr == nil {
			fillPrice = latest
		} else {
			fillPrice = entryPrice
		}
	}

	move := fillPrice - entryPrice
	if posSide == domain.SideShort {
		move = -move
	}
	pnl := move * quantity

	c.mu.Lock()
	pos.Status = domain.StatusClosed
	pos.ExitPrice = fillPrice
	pos.ExitTime = time.Now()
	pos.PNL = pnl
	pos.ExitReason = reason
	c.mu.Unlock()

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"positionID": positionID,
		"symbol":     symbol,
		"orderID":    order.OrderID,
		"exitPrice":  fillPrice,
		"pnl":        pnl,
		"reason":     string(reason),
	})
	return pnl, nil
}
