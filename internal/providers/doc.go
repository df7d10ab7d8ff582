// Package providers implements secretstore.Store on top of cloud secret
// managers, the OS keychain and SQL databases.
//
// Every backend takes its configuration as the map decoded from the
// `store:` block of keyrelay.yaml and accepts functional options that
// replace the SDK client, so tests run against fakes:
//
//	store, err := providers.NewAzureKeyVaultStore("kv", map[string]interface{}{
//	    "vault_url": "https://my-vault.vault.azure.net/",
//	}, providers.WithKeyVaultClient(fake))
//
// Backends translate their SDK's "missing" errors into
// secretstore.NotFoundError and treat deleting a missing key as success.
package providers
