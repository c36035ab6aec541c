package controllers

import (
	"net/http"

	"classplanner_go/config"
	"classplanner_go/database"
	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/services/websocket"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{hub: hub}
}

// userFromToken resolves a raw JWT (from the ws?token= query parameter, since
// browsers cannot set headers on websocket upgrades) to an active user.
func (wsc *WebSocketController) userFromToken(tokenString string) (*models.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &middleware.Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*middleware.Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}

	var user models.User
	err = database.DB.Where("id = ? AND status = ?", claims.UserID, "active").First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// HandleWebSocket answers plain HTTP requests that hit the websocket path.
func (wsc *WebSocketController) HandleWebSocket(c *fiber.Ctx) error {
	return utils.Fail(c, fiber.StatusBadRequest, "Use the WebSocket endpoint: ws://<host>/ws?token=YOUR_JWT")
}

// WebSocketHandler upgrades the connection, authenticates the token, and
// hands the connection to the hub.
func (wsc *WebSocketController) WebSocketHandler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("websocket handler panic: %v", r)
			}
		}()

		reject := func(reason string) {
			c.WriteMessage(fiberws.CloseMessage, []byte(reason))
			c.Close()
		}

		token := c.Query("token")
		if token == "" {
			reject("Missing token")
			return
		}
		user, err := wsc.userFromToken(token)
		if err != nil {
			logrus.Debugf("websocket connection rejected: %v", err)
			reject("Invalid token")
			return
		}

		wsc.hub.ServeFiberWS(c, user.ID)
	})
}

// HandleWebSocketHTTP serves the upgrade for net/http callers.
func (wsc *WebSocketController) HandleWebSocketHTTP(w http.ResponseWriter, r *http.Request, userID uint) {
	wsc.hub.ServeWS(w, r, userID)
}

// GetWebSocketStats reports connection counts. Admin only.
func (wsc *WebSocketController) GetWebSocketStats(c *fiber.Ctx) error {
	return utils.Success(c, fiber.Map{
		"connected_clients": wsc.hub.GetClientCount(),
		"status":            "active",
	})
}
