package obs

import "go.opentelemetry.io/otel/attribute"

// Attribute keys follow the OpenLLMetry naming where one exists.

var (
	// AttrModel identifies the upstream model the request was served with.
	AttrModel = attribute.Key("llm.model")

	// AttrRequestModel identifies the model the client asked for, before mapping.
	AttrRequestModel = attribute.Key("llm.request.model")

	// AttrTokenType distinguishes input from output tokens on llm.token.usage.
	AttrTokenType = attribute.Key("llm.token_type")

	// AttrMode identifies the proxy mode the request went through.
	AttrMode = attribute.Key("proxy.mode")

	// AttrStreaming indicates whether the response was streamed.
	AttrStreaming = attribute.Key("llm.streaming")

	// AttrErrorType carries the error taxonomy bucket on llm.request.errors.
	AttrErrorType = attribute.Key("llm.error.type")
)
