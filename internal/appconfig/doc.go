// Package appconfig provides the configuration provider timer functions read
// keys from.
//
// A Provider consults an ordered list of sources (Azure App Configuration, a
// local settings file, the environment snapshot). A setting that is a secret
// reference is resolved through the resolver registered for its scheme:
// Azure Key Vault (https), the OS keychain (keyring) or AWS Secrets Manager
// (asm). Resolved values are cached for the refresh interval.
package appconfig
