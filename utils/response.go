package utils

import "github.com/gofiber/fiber/v2"

// Envelope is the uniform response body for every API endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
}

// Success writes a 200 envelope with data.
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(Envelope{Success: true, Data: data})
}

// SuccessMessage writes a 200 envelope with a message and optional data.
func SuccessMessage(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(Envelope{Success: true, Message: message, Data: data})
}

// Created writes a 201 envelope with data.
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Envelope{Success: true, Data: data})
}

// Fail writes an error envelope with the given status and messages.
func Fail(c *fiber.Ctx, status int, message string, errs ...string) error {
	return c.Status(status).JSON(Envelope{Success: false, Message: message, Errors: errs})
}
