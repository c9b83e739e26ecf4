package gateway

// Factory configuration documents.
const (
	DefaultServerConfig = `{"communication":{"mode":"WIFI","connection_mode":"Automatic",` +
		`"ip_address":"192.168.1.100","mac_address":"00:1A:2B:3C:4D:5E",` +
		`"wifi":{"ssid":"MyWiFiNetwork","password":"MySecretPassword"}},` +
		`"protocol":"mqtt","data_interval":{"value":1000,"unit":"ms"},` +
		`"mqtt_config":{"enabled":true,"broker_address":"demo.thingsboard.io","broker_port":1883,` +
		`"client_id":"esp32_device","username":"device_token","password":"device_password",` +
		`"topic_publish":"v1/devices/me/telemetry","topic_subscribe":"device/control",` +
		`"keep_alive":60,"clean_session":true,"use_tls":false},` +
		`"http_config":{"enabled":true,"endpoint_url":"https://api.example.com/data","method":"POST",` +
		`"body_format":"json","timeout":5000,"retry":3,` +
		`"headers":{"Authorization":"Bearer token","Content-Type":"application/json"}}}`

	DefaultLoggingConfig = `{"logging_ret":"1w","logging_interval":"5m"}`
)

var (
	loggingRetentions = map[string]bool{"1w": true, "1m": true, "3m": true}
	loggingIntervals  = map[string]bool{"5m": true, "10m": true, "30m": true}
)
