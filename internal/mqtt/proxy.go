package mqtt

import "os"

// proxyEnvVars are the proxy variables the transport library consults.
var proxyEnvVars = []string{
	"http_proxy", "HTTP_PROXY",
	"https_proxy", "HTTPS_PROXY",
	"all_proxy", "ALL_PROXY",
	"no_proxy", "NO_PROXY",
}

// clearEmptyProxyEnvVars unsets proxy variables that are exported but
// empty. Container templates often export them unconditionally, and an
// empty proxy value makes the underlying dialer fail instead of bypassing
// the proxy.
func clearEmptyProxyEnvVars() {
	for _, name := range proxyEnvVars {
		if value, set := os.LookupEnv(name); set && value == "" {
			os.Unsetenv(name)
		}
	}
}
