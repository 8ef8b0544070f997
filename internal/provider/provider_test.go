package provider

import "testing"

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ollama minimal", Config{Backend: BackendOllama, Model: "qwen2.5:3b"}, false},
		{"ollama no model", Config{Backend: BackendOllama}, true},
		{"openai ok", Config{Backend: BackendOpenAI, Model: "gpt-4o", APIKey: "sk-x"}, false},
		{"openai missing key", Config{Backend: BackendOpenAI, Model: "gpt-4o"}, true},
		{"azure ok", Config{Backend: BackendAzure, APIKey: "k", BaseURL: "https://x.openai.azure.com", AzureDeployment: "gpt-4.1"}, false},
		{"azure missing endpoint", Config{Backend: BackendAzure, APIKey: "k", AzureDeployment: "d"}, true},
		{"azure missing deployment", Config{Backend: BackendAzure, APIKey: "k", BaseURL: "https://x"}, true},
		{"unknown backend", Config{Backend: "bedrock", Model: "m"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
