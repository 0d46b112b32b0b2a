// Copyright © 2024 Meroxa, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package factory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conduitio/conduit-connector-declarative/datetime"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
)

// Component kinds known to the default registry.
const (
	KindDeclarativeStream                      = "DeclarativeStream"
	KindSimpleRetriever                        = "SimpleRetriever"
	KindAsyncRetriever                         = "AsyncRetriever"
	KindHTTPRequester                          = "HttpRequester"
	KindRequestOption                          = "RequestOption"
	KindRequestPath                            = "RequestPath"
	KindRecordSelector                         = "RecordSelector"
	KindDpathExtractor                         = "DpathExtractor"
	KindJMESPathExtractor                      = "JmesPathExtractor"
	KindRecordFilter                           = "RecordFilter"
	KindAddFields                              = "AddFields"
	KindAddedFieldDefinition                   = "AddedFieldDefinition"
	KindRemoveFields                           = "RemoveFields"
	KindDefaultPaginator                       = "DefaultPaginator"
	KindNoPagination                           = "NoPagination"
	KindOffsetIncrement                        = "OffsetIncrement"
	KindPageIncrement                          = "PageIncrement"
	KindCursorPagination                       = "CursorPagination"
	KindJSONDecoder                            = "JsonDecoder"
	KindJSONLDecoder                           = "JsonlDecoder"
	KindCSVDecoder                             = "CsvDecoder"
	KindXMLDecoder                             = "XmlDecoder"
	KindGzipDecoder                            = "GzipDecoder"
	KindDatetimeBasedCursor                    = "DatetimeBasedCursor"
	KindMinMaxDatetime                         = "MinMaxDatetime"
	KindSinglePartitionRouter                  = "SinglePartitionRouter"
	KindListPartitionRouter                    = "ListPartitionRouter"
	KindSubstreamPartitionRouter               = "SubstreamPartitionRouter"
	KindParentStreamConfig                     = "ParentStreamConfig"
	KindCartesianProductStreamSlicer           = "CartesianProductStreamSlicer"
	KindNoAuth                                 = "NoAuth"
	KindAPIKeyAuthenticator                    = "ApiKeyAuthenticator"
	KindBearerAuthenticator                    = "BearerAuthenticator"
	KindBasicHTTPAuthenticator                 = "BasicHttpAuthenticator"
	KindOAuthAuthenticator                     = "OAuthAuthenticator"
	KindSessionTokenAuthenticator              = "SessionTokenAuthenticator"
	KindSessionTokenRequestAPIKeyAuthenticator = "SessionTokenRequestApiKeyAuthenticator"
	KindSessionTokenRequestBearerAuthenticator = "SessionTokenRequestBearerAuthenticator"
	KindSelectiveAuthenticator                 = "SelectiveAuthenticator"
	KindDefaultErrorHandler                    = "DefaultErrorHandler"
	KindCompositeErrorHandler                  = "CompositeErrorHandler"
	KindHTTPResponseFilter                     = "HttpResponseFilter"
	KindConstantBackoffStrategy                = "ConstantBackoffStrategy"
	KindExponentialBackoffStrategy             = "ExponentialBackoffStrategy"
	KindWaitTimeFromHeader                     = "WaitTimeFromHeader"
	KindWaitUntilTimeFromHeader                = "WaitUntilTimeFromHeader"
	KindHTTPAPIBudget                          = "HTTPAPIBudget"
	KindFixedWindowCallRatePolicy              = "FixedWindowCallRatePolicy"
	KindMovingWindowCallRatePolicy             = "MovingWindowCallRatePolicy"
	KindUnlimitedCallRatePolicy                = "UnlimitedCallRatePolicy"
	KindRate                                   = "Rate"
	KindHTTPRequestMatcher                     = "HttpRequestMatcher"
	KindInlineSchemaLoader                     = "InlineSchemaLoader"
	KindJSONFileSchemaLoader                   = "JsonFileSchemaLoader"
	KindCheckStream                            = "CheckStream"
	KindSpec                                   = "Spec"
)

func builtins() map[string]Constructor {
	return map[string]Constructor{
		KindDeclarativeStream:                      buildDeclarativeStream,
		KindSimpleRetriever:                        buildSimpleRetriever,
		KindAsyncRetriever:                         buildAsyncRetriever,
		KindHTTPRequester:                          buildHTTPRequester,
		KindRequestOption:                          buildRequestOption,
		KindRequestPath:                            buildRequestPath,
		KindRecordSelector:                         buildRecordSelector,
		KindDpathExtractor:                         buildDpathExtractor,
		KindJMESPathExtractor:                      buildJMESPathExtractor,
		KindRecordFilter:                           buildRecordFilter,
		KindAddFields:                              buildAddFields,
		KindAddedFieldDefinition:                   buildAddedFieldDefinition,
		KindRemoveFields:                           buildRemoveFields,
		KindDefaultPaginator:                       buildDefaultPaginator,
		KindNoPagination:                           buildNoPagination,
		KindOffsetIncrement:                        buildOffsetIncrement,
		KindPageIncrement:                          buildPageIncrement,
		KindCursorPagination:                       buildCursorPagination,
		KindJSONDecoder:                            buildJSONDecoder,
		KindJSONLDecoder:                           buildJSONLDecoder,
		KindCSVDecoder:                             buildCSVDecoder,
		KindXMLDecoder:                             buildXMLDecoder,
		KindGzipDecoder:                            buildGzipDecoder,
		KindDatetimeBasedCursor:                    buildDatetimeBasedCursor,
		KindMinMaxDatetime:                         buildMinMaxDatetime,
		KindSinglePartitionRouter:                  buildSinglePartitionRouter,
		KindListPartitionRouter:                    buildListPartitionRouter,
		KindSubstreamPartitionRouter:               buildSubstreamPartitionRouter,
		KindParentStreamConfig:                     buildParentStreamConfig,
		KindCartesianProductStreamSlicer:           buildCartesianProductSlicer,
		KindNoAuth:                                 buildNoAuth,
		KindAPIKeyAuthenticator:                    buildAPIKeyAuthenticator,
		KindBearerAuthenticator:                    buildBearerAuthenticator,
		KindBasicHTTPAuthenticator:                 buildBasicHTTPAuthenticator,
		KindOAuthAuthenticator:                     buildOAuthAuthenticator,
		KindSessionTokenAuthenticator:              buildSessionTokenAuthenticator,
		KindSessionTokenRequestAPIKeyAuthenticator: buildSessionTokenAPIKeyInjection,
		KindSessionTokenRequestBearerAuthenticator: buildSessionTokenBearerInjection,
		KindSelectiveAuthenticator:                 buildSelectiveAuthenticator,
		KindDefaultErrorHandler:                    buildDefaultErrorHandler,
		KindCompositeErrorHandler:                  buildCompositeErrorHandler,
		KindHTTPResponseFilter:                     buildHTTPResponseFilter,
		KindConstantBackoffStrategy:                buildConstantBackoff,
		KindExponentialBackoffStrategy:             buildExponentialBackoff,
		KindWaitTimeFromHeader:                     buildWaitTimeFromHeader,
		KindWaitUntilTimeFromHeader:                buildWaitUntilTimeFromHeader,
		KindHTTPAPIBudget:                          buildAPIBudget,
		KindFixedWindowCallRatePolicy:              buildFixedWindowPolicy,
		KindMovingWindowCallRatePolicy:             buildMovingWindowPolicy,
		KindUnlimitedCallRatePolicy:                buildUnlimitedPolicy,
		KindRate:                                   buildRate,
		KindHTTPRequestMatcher:                     buildRequestMatcher,
		KindInlineSchemaLoader:                     buildInlineSchemaLoader,
		KindJSONFileSchemaLoader:                   buildJSONFileSchemaLoader,
		KindCheckStream:                            buildCheckStream,
		KindSpec:                                   buildSpec,
	}
}

// eval renders a string option against the config and the parameters of n.
func (b *Builder) eval(n *Node, field, raw string) (string, error) {
	s, err := interpolation.NewString(raw)
	if err != nil {
		return "", failure.WithPath(n.join(field), err)
	}
	out, err := s.Eval(interpolation.NewContext(b.config, n.Params))
	if err != nil {
		return "", failure.WithPath(n.join(field), err)
	}
	return out, nil
}

// seconds evaluates a number of seconds, raw may be a template.
func (b *Builder) seconds(n *Node, field, raw string) (time.Duration, error) {
	v, err := b.eval(n, field, raw)
	if err != nil || v == "" {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, failure.Config(n.join(field), "expected a positive number of seconds, got %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// duration evaluates an ISO-8601 duration such as PT1M.
func (b *Builder) duration(n *Node, field, raw string) (time.Duration, error) {
	v, err := b.eval(n, field, raw)
	if err != nil || v == "" {
		return 0, err
	}
	d, err := datetime.ParseDuration(v)
	if err != nil {
		return 0, failure.Config(n.join(field), "invalid duration %q: %v", v, err)
	}
	return d.Approximate(), nil
}

// path splits a field path given as a list or as a dot separated string.
func path(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ".")
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = fmt.Sprint(item)
		}
		return out
	case []string:
		return v
	default:
		return []string{fmt.Sprint(v)}
	}
}
