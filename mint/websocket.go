package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/rs/zerolog"
)

const (
	KeysetStateKind = "keyset_state"

	wsSubscribe   = "subscribe"
	wsUnsubscribe = "unsubscribe"
	wsStatusOK    = "OK"
	jsonRPC2      = "2.0"

	wsErrCode        = 1000
	maxSubscriptions = 100
	maxFilters       = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WsRequest struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  WsRequestParams `json:"params"`
	Id      int             `json:"id"`
}

type WsRequestParams struct {
	Kind  string `json:"kind"`
	SubId string `json:"subId"`
	// Filters are keyset ids. Empty means every keyset the mint knows.
	Filters []string `json:"filters"`
}

type WsResponse struct {
	JsonRPC string   `json:"jsonrpc"`
	Result  WsResult `json:"result"`
	Id      int      `json:"id"`
}

type WsResult struct {
	Status string `json:"status"`
	SubId  string `json:"subId"`
}

type WsNotification struct {
	JsonRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

type NotificationParams struct {
	SubId   string          `json:"subId"`
	Payload json.RawMessage `json:"payload"`
}

type WsError struct {
	JsonRPC string      `json:"jsonrpc"`
	Error   WsErrorBody `json:"error"`
	Id      int         `json:"id"`
}

type WsErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newWsError(message string, id int) *WsError {
	return &WsError{
		JsonRPC: jsonRPC2,
		Error:   WsErrorBody{Code: wsErrCode, Message: message},
		Id:      id,
	}
}

func newWsResponse(subId string, id int) *WsResponse {
	return &WsResponse{
		JsonRPC: jsonRPC2,
		Result:  WsResult{Status: wsStatusOK, SubId: subId},
		Id:      id,
	}
}

// WebsocketManager streams keyset state changes published on the bus to
// subscribed websocket clients.
type WebsocketManager struct {
	clients map[*Client]bool
	sync.RWMutex
	mint   *Mint
	bus    *pubsub.PubSub
	logger zerolog.Logger
}

func NewWebsocketManager(m *Mint, bus *pubsub.PubSub, logger zerolog.Logger) *WebsocketManager {
	return &WebsocketManager{
		clients: make(map[*Client]bool),
		mint:    m,
		bus:     bus,
		logger:  logger,
	}
}

func (wm *WebsocketManager) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wm.logger.Error().Err(err).Msg("could not upgrade to websocket connection")
		return
	}

	client := NewClient(conn, wm)
	wm.addClient(client)
	wm.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket connection established")

	go client.readMessages()
	go client.writeMessages()
}

func (wm *WebsocketManager) addClient(client *Client) {
	wm.Lock()
	wm.clients[client] = true
	wm.Unlock()
}

func (wm *WebsocketManager) removeClient(client *Client) {
	wm.Lock()
	if _, ok := wm.clients[client]; ok {
		client.close()
		delete(wm.clients, client)
	}
	wm.Unlock()
}

// Close drops every connection. Hijacked connections are not closed by
// http.Server.Shutdown.
func (wm *WebsocketManager) Close() {
	wm.Lock()
	for client := range wm.clients {
		client.close()
		delete(wm.clients, client)
	}
	wm.Unlock()
}

func (wm *WebsocketManager) Len() int {
	wm.RLock()
	defer wm.RUnlock()
	return len(wm.clients)
}

type Client struct {
	conn          *websocket.Conn
	subscriptions map[string]SubscriptionClient
	mu            sync.Mutex
	manager       *WebsocketManager

	// aggregate writes through this channel since there can only be one concurrent writer.
	send      chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once

	msgSizeLimit int64
	pongWait     time.Duration
	pingInterval time.Duration
}

func NewClient(conn *websocket.Conn, manager *WebsocketManager) *Client {
	return &Client{
		conn:          conn,
		subscriptions: make(map[string]SubscriptionClient),
		manager:       manager,
		send:          make(chan json.RawMessage),
		done:          make(chan struct{}),
		msgSizeLimit:  2048,
		pongWait:      60 * time.Second,
		pingInterval:  30 * time.Second,
	}
}

// enqueue hands msg to the writer. It returns false once the client is
// closed.
func (c *Client) enqueue(msg any) bool {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		c.manager.logger.Error().Err(err).Msg("could not encode websocket message")
		return true
	}
	select {
	case c.send <- jsonMsg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) readMessages() {
	defer c.manager.removeClient(c)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		return
	}

	c.conn.SetReadLimit(c.msgSizeLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure,
			) {
				c.manager.logger.Debug().Err(err).Msg("detected unexpected closed connection")
			}
			return
		}

		var wsRequest WsRequest
		if err := json.Unmarshal(msg, &wsRequest); err != nil {
			if !c.enqueue(newWsError("invalid request", -1)) {
				return
			}
			continue
		}

		wsResponse, started, wsError := c.processRequest(wsRequest)
		if wsError != nil {
			c.manager.logger.Debug().Str("error", wsError.Error.Message).Msg("rejected websocket request")
			if !c.enqueue(wsError) {
				return
			}
			continue
		}
		if !c.enqueue(wsResponse) {
			return
		}
		// initial state goes out after the subscription is acknowledged
		if started != nil {
			go listenForSubscriptionUpdates(started, c)
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.manager.removeClient(c)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.manager.logger.Debug().Err(err).Msg("could not write message on websocket connection")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) processRequest(req WsRequest) (*WsResponse, SubscriptionClient, *WsError) {
	switch req.Method {
	case wsSubscribe:
		return c.subscriptionRequest(req)
	case wsUnsubscribe:
		response, wsErr := c.unsubscriptionRequest(req)
		return response, nil, wsErr
	}
	return nil, nil, newWsError("invalid request method", req.Id)
}

func (c *Client) subscriptionRequest(req WsRequest) (*WsResponse, SubscriptionClient, *WsError) {
	if req.Params.Kind != KeysetStateKind {
		return nil, nil, newWsError(fmt.Sprintf("unsupported subscription kind '%v'", req.Params.Kind), req.Id)
	}
	if req.Params.SubId == "" {
		return nil, nil, newWsError("missing subId", req.Id)
	}
	if len(req.Params.Filters) > maxFilters {
		return nil, nil, newWsError("too many filters", req.Id)
	}

	c.mu.Lock()
	_, exists := c.subscriptions[req.Params.SubId]
	count := len(c.subscriptions)
	c.mu.Unlock()
	if exists {
		return nil, nil, newWsError(fmt.Sprintf("subscription with subId '%v' already exists", req.Params.SubId), req.Id)
	}
	if count >= maxSubscriptions {
		return nil, nil, newWsError("reached subscription limit", req.Id)
	}

	// subscribe before reading the current state so no change is missed
	subscriber := c.manager.bus.Subscribe(pubsub.KeysetsTopic)
	keysets, wsErr := c.filterKeysets(req)
	if wsErr != nil {
		c.manager.bus.Unsubscribe(subscriber, pubsub.KeysetsTopic)
		subscriber.Close()
		return nil, nil, wsErr
	}

	subClient := NewKeysetStateSubClient(req.Params.SubId, keysets, c.manager.bus, subscriber)
	c.addSubscriptionClient(req.Params.SubId, subClient)
	c.manager.logger.Debug().
		Str("sub_id", req.Params.SubId).
		Int("keysets", len(keysets)).
		Msg("added keyset state subscription")

	return newWsResponse(req.Params.SubId, req.Id), subClient, nil
}

func (c *Client) filterKeysets(req WsRequest) ([]cashu.KeysetResponse, *WsError) {
	all, err := c.manager.mint.Keysets(context.Background())
	if err != nil {
		c.manager.logger.Error().Err(err).Msg("could not read keysets for subscription")
		return nil, newWsError("keysets unavailable", req.Id)
	}
	if len(req.Params.Filters) == 0 {
		return all, nil
	}

	known := make(map[cashu.KeysetId]cashu.KeysetResponse, len(all))
	for _, keyset := range all {
		known[keyset.Id] = keyset
	}
	keysets := make([]cashu.KeysetResponse, 0, len(req.Params.Filters))
	for _, filter := range req.Params.Filters {
		id, err := cashu.KeysetIdFromHex(filter)
		if err != nil {
			return nil, newWsError(fmt.Sprintf("invalid keyset id '%v'", filter), req.Id)
		}
		keyset, ok := known[id]
		if !ok {
			return nil, newWsError(fmt.Sprintf("keyset %v does not exist", filter), req.Id)
		}
		keysets = append(keysets, keyset)
	}
	return keysets, nil
}

func (c *Client) unsubscriptionRequest(req WsRequest) (*WsResponse, *WsError) {
	if !c.removeSubscriptionClient(req.Params.SubId) {
		errMsg := fmt.Sprintf("subscription with subId '%v' does not exist", req.Params.SubId)
		return nil, newWsError(errMsg, req.Id)
	}
	return newWsResponse(req.Params.SubId, req.Id), nil
}

func (c *Client) addSubscriptionClient(subId string, subClient SubscriptionClient) {
	c.mu.Lock()
	c.subscriptions[subId] = subClient
	c.mu.Unlock()
}

func (c *Client) removeSubscriptionClient(subId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	subClient, ok := c.subscriptions[subId]
	if ok {
		subClient.Close()
		delete(c.subscriptions, subId)
	}
	return ok
}

// cancel all subscriptions and close websocket connection
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		for subId, subClient := range c.subscriptions {
			subClient.Close()
			delete(c.subscriptions, subId)
		}
		c.mu.Unlock()
		c.conn.Close()
	})
}

func listenForSubscriptionUpdates(subClient SubscriptionClient, c *Client) {
	notifChan := subClient.Read()
	for {
		select {
		case notif, ok := <-notifChan:
			if !ok || !c.enqueue(notif) {
				return
			}
		case <-subClient.Context().Done():
			return
		}
	}
}

type SubscriptionClient interface {
	Read() <-chan WsNotification
	Context() context.Context
	Close()
}

// KeysetStateSubClient notifies the current state of its keysets, then
// every change to it.
type KeysetStateSubClient struct {
	subId  string
	ctx    context.Context
	cancel context.CancelFunc

	bus        *pubsub.PubSub
	subscriber *pubsub.Subscriber
	initial    []cashu.KeysetResponse
	keysets    map[cashu.KeysetId]bool
	closeOnce  sync.Once
}

func NewKeysetStateSubClient(
	subId string,
	keysets []cashu.KeysetResponse,
	bus *pubsub.PubSub,
	subscriber *pubsub.Subscriber,
) *KeysetStateSubClient {
	ctx, cancel := context.WithCancel(context.Background())
	states := make(map[cashu.KeysetId]bool, len(keysets))
	for _, keyset := range keysets {
		states[keyset.Id] = keyset.Active
	}
	return &KeysetStateSubClient{
		subId:      subId,
		ctx:        ctx,
		cancel:     cancel,
		bus:        bus,
		subscriber: subscriber,
		initial:    keysets,
		keysets:    states,
	}
}

func (k *KeysetStateSubClient) notification(state pubsub.KeysetEvent) WsNotification {
	payload, _ := json.Marshal(state)
	return WsNotification{
		JsonRPC: jsonRPC2,
		Method:  wsSubscribe,
		Params:  NotificationParams{SubId: k.subId, Payload: payload},
	}
}

func (k *KeysetStateSubClient) Read() <-chan WsNotification {
	notifChan := make(chan WsNotification)

	go func() {
		defer close(notifChan)

		emit := func(state pubsub.KeysetEvent) bool {
			select {
			case notifChan <- k.notification(state):
				return true
			case <-k.ctx.Done():
				return false
			}
		}

		for _, keyset := range k.initial {
			if !emit(pubsub.KeysetEvent{Id: keyset.Id, Active: keyset.Active}) {
				return
			}
		}

		messages := k.subscriber.GetMessages()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := pubsub.DecodeKeysetEvent(msg)
				if err != nil {
					continue
				}
				previous, tracked := k.keysets[event.Id]
				if !tracked || previous == event.Active {
					continue
				}
				k.keysets[event.Id] = event.Active
				if !emit(event) {
					return
				}
			case <-k.ctx.Done():
				return
			}
		}
	}()

	return notifChan
}

func (k *KeysetStateSubClient) Context() context.Context {
	return k.ctx
}

func (k *KeysetStateSubClient) Close() {
	k.closeOnce.Do(func() {
		k.bus.Unsubscribe(k.subscriber, pubsub.KeysetsTopic)
		k.subscriber.Close()
		k.cancel()
	})
}
