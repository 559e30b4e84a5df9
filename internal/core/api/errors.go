package api

// Error mapping is done inline in handlers.
// Auth errors mapped in auth package interceptor.
// Database and policy source errors map to UNAVAILABLE.
// Validation errors map to INVALID_ARGUMENT.
// A local id reused across companies maps to ALREADY_EXISTS.
