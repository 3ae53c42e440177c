package dataflow

// Built-in filters. Configured filters are appended to these.
var (
	builtinDomainIncludes = []string{}

	builtinDomainExcludes = []string{
		"DD*",
		"DataDog*",
	}

	builtinAssemblyIncludes = []string{}

	builtinAssemblyExcludes = []string{
		"System*",
		"Datadog.*",
		"Kudu*",
		"Microsoft*",
		"MSBuild",
		"testhost.net*",
		"dotnet",
		"netstandard",
		"AspNet.*",
		"msvcm90*",
		"Mono.*",
		"NuGet.*",
		"PCRE.*",
		"Antlr*",
		"Azure.Messaging.ServiceBus*",
		"PostSharp",
		"SMDiagnostics",
		"testhost",
		"WebGrease",
		"YamlDotNet",
		"EnvSettings*",
		"EntityFramework*",
		"linq2db*",
		"Newtonsoft.Json*",
		"log4net*",
		"Autofac*",
		"StackExchange*",
		"BundleTransformer*",
		"LibSassHost*",
		"ClearScript*",
		"NewRelic*",
		"AppDynamics*",
		"NProfiler*",
		"KTJdotnetTls*",
		"KTJUniDC*",
		"Dynatrace*",
		"oneagent*",
		"CommandLine",
		"Moq",
		"Castle.Core",
		"MiniProfiler*",
		"MySql*",
		"Serilog*",
		"ServiceStack*",
		"mscorlib",
		"Xunit.*",
		"xunit.*",
		"FluentAssertions",
		"NUnit3.TestAdapter",
		"nunit.*",
	}

	// Method includes carve exceptions out of the method excludes.
	builtinMethodIncludes = []string{
		"System.Web.Mvc.ControllerActionInvoker::InvokeAction*",
		"System.Web.Mvc.Async.AsyncControllerActionInvoker*",
		"System.Web.Http.Controllers.ReflectedHttpActionDescriptor::ExecuteAsync*",
		"System.Net.Http.HttpRequestMessage*",
		"System.ServiceModel.Dispatcher*",
		"MongoDB.Bson.Serialization.Serializers.StringSerializer*",
	}

	builtinMethodExcludes = []string{
		"DataDog*",
		"System.Web.Mvc*",
		"System.Web.PrefixContainer*",
		"Microsoft.ClearScript*",
		"JavaScriptEngineSwitcher*",
		"IBM.Tivoli*",
		"Dynatrace*",
		"Microsoft.AspNetCore.Razor.Tools*",
		"Microsoft.Extensions.CommandLineUtils*",
		"System.Net.Http*",
		"System.ServiceModel*",
		"System.Web.Http*",
		"MongoDB.*",
	}
)
